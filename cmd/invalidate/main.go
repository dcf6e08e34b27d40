// Command invalidate announces that a remote collection changed, so every
// server consuming the invalidation topic drops its cached series for it.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mohammed-shakir/eo-timeseries/internal/core/config"
	invkafka "github.com/mohammed-shakir/eo-timeseries/pkg/invalidation/kafka"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	env := invkafka.FromConfig(config.FromEnv().Invalidation)

	fs := flag.NewFlagSet("invalidate", flag.ContinueOnError)
	brokers := fs.String("brokers", strings.Join(env.Brokers, ","), "comma separated Kafka brokers")
	topic := fs.String("topic", env.Topic, "invalidation topic")
	seq := fs.Uint64("seq", 0, "per-collection sequence number; 0 sends an unsequenced event")
	source := fs.String("source", "cli", "free-form origin recorded on the event")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: invalidate [flags] COLLECTION...")
		return 2
	}

	p, err := invkafka.NewPublisher(splitBrokers(*brokers), *topic)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = p.Close() }()

	code := 0
	for _, c := range fs.Args() {
		ev, err := p.CollectionUpdated(c, *seq, *source)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", c, err)
			code = 1
			continue
		}
		fmt.Printf("sent %s collection=%s seq=%d ts=%s\n", ev.Op, ev.Collection, ev.Seq, ev.TS.Format("2006-01-02T15:04:05Z"))
	}
	return code
}

func splitBrokers(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
