// The MIT License (MIT)

// Copyright (c) 2017-2020 Uber Technologies Inc.

// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// resilience-sim drives the resilience layer against a simulated flaky
// remote service, flipping connectivity on and off, and prints what the
// layer did about it.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/uber/netresilience/config"
	"github.com/uber/netresilience/connectivity"
	"github.com/uber/netresilience/log/loggerimpl"
	"github.com/uber/netresilience/resilience"
)

func main() {
	app := cli.NewApp()
	app.Name = "resilience-sim"
	app.Usage = "simulate a flaky remote service behind the resilience layer"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to a YAML config file (defaults apply when omitted)",
		},
		cli.DurationFlag{
			Name:  "duration, d",
			Value: 30 * time.Second,
			Usage: "how long to run the simulation",
		},
		cli.StringSliceFlag{
			Name:  "operation, op",
			Usage: "operation keys to exercise (repeatable)",
		},
		cli.Float64Flag{
			Name:  "failure-rate",
			Value: 0.3,
			Usage: "fraction of calls that fail with a connectivity error",
		},
		cli.DurationFlag{
			Name:  "offline-every",
			Value: 10 * time.Second,
			Usage: "how often connectivity drops (half the period offline)",
		},
		cli.DurationFlag{
			Name:  "tick",
			Value: 250 * time.Millisecond,
			Usage: "delay between call attempts",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "log at debug level",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("simulation failed: %v", err))
		os.Exit(1)
	}
}

type simStats struct {
	admitted  int
	denied    int
	cacheHits int
	succeeded int
	failed    int
}

func run(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	keys := c.StringSlice("operation")
	if len(keys) == 0 {
		keys = []string{"fetch-conversations", "fetch-profile", "send-message"}
	}

	logger, err := loggerimpl.NewDevelopment()
	if err != nil {
		return err
	}
	if !c.Bool("verbose") {
		logger = loggerimpl.NewNopLogger()
	}

	monitor := connectivity.NewFakeMonitor(connectivity.State{
		Connected:         true,
		InternetReachable: connectivity.ReachabilityYes,
	})
	layer := resilience.NewLayer(resilience.Params{
		ConfigProvider: config.NewStaticProvider(cfg),
		Monitor:        monitor,
		Logger:         logger,
	})
	layer.Start()
	defer layer.Stop()

	var (
		failureRate  = c.Float64("failure-rate")
		tick         = c.Duration("tick")
		offlineEvery = c.Duration("offline-every")
		deadline     = time.Now().Add(c.Duration("duration"))
		stats        = map[string]*simStats{}
		online       = true
		lastFlip     = time.Now()
	)
	for _, key := range keys {
		stats[key] = &simStats{}
	}

	fmt.Printf("running for %v against %d operations, failure rate %.0f%%\n\n",
		c.Duration("duration"), len(keys), failureRate*100)

	for time.Now().Before(deadline) {
		if time.Since(lastFlip) >= offlineEvery/2 {
			online = !online
			lastFlip = time.Now()
			monitor.SetOnline(online)
			if online {
				fmt.Println(color.GreenString("connectivity restored"))
			} else {
				fmt.Println(color.RedString("connectivity lost"))
			}
		}

		key := keys[rand.Intn(len(keys))]
		s := stats[key]
		if !layer.IsAdmitted(key) {
			s.denied++
			if _, ok := layer.CacheGet(key); ok {
				s.cacheHits++
			}
			time.Sleep(tick)
			continue
		}
		s.admitted++

		payload, err := flakyCall(online, failureRate, key)
		if err != nil {
			s.failed++
			layer.RecordError(key, err)
			if resilience.IsConnectivityError(err) {
				k := key
				if _, qErr := layer.EnqueueRetry(func() error {
					layer.CachePut(k, fmt.Sprintf("replayed %s", k))
					return nil
				}, err, nil); qErr == nil {
					fmt.Println(color.YellowString("queued %s for retry", key))
				}
			}
		} else {
			s.succeeded++
			layer.CachePut(key, payload)
		}
		time.Sleep(tick)
	}

	printReport(layer, keys, stats)
	return nil
}

func flakyCall(online bool, failureRate float64, key string) (string, error) {
	if !online {
		return "", resilience.ErrNetworkUnavailable
	}
	if rand.Float64() < failureRate {
		return "", resilience.ErrNetworkUnavailable
	}
	return fmt.Sprintf("payload for %s", key), nil
}

func printReport(layer *resilience.Layer, keys []string, stats map[string]*simStats) {
	fmt.Println()
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Operation", "Admitted", "Denied", "Cache Hits", "Succeeded", "Failed"})
	for _, key := range keys {
		s := stats[key]
		table.Append([]string{
			key,
			strconv.Itoa(s.admitted),
			strconv.Itoa(s.denied),
			strconv.Itoa(s.cacheHits),
			strconv.Itoa(s.succeeded),
			strconv.Itoa(s.failed),
		})
	}
	table.Render()

	queue := layer.QueueStats()
	fmt.Printf("\nretry queue: %d pending, draining=%v\n", queue.Size, queue.IsDraining)
	for _, item := range queue.Items {
		fmt.Printf("  %s retries=%d/%d enqueued=%s\n",
			item.ID, item.RetryCount, item.MaxRetries, item.EnqueuedAt.Format(time.RFC3339))
	}
	fmt.Printf("swept %d expired cache entries\n", layer.SweepExpiredCache())
}
