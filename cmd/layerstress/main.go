// Command layerstress drives creation/lookup races against a layer and
// reports how every lookup ended.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ghetzel/cli"
	"github.com/ghetzel/go-stockutil/log"

	"github.com/obinnaokechukwu/layershim"
	"github.com/obinnaokechukwu/layershim/config"
	"github.com/obinnaokechukwu/layershim/internal/platform"
)

const version = `0.1.0`

func main() {
	var cfg config.Config

	app := cli.NewApp()
	app.Name = `layerstress`
	app.Usage = `Race object creation against lookups through a layer's dispatch tables.`
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   `log-level, L`,
			Usage:  `Level of log output verbosity`,
			Value:  `info`,
			EnvVar: `LOGLEVEL`,
		},
		cli.StringFlag{
			Name:   `config, c`,
			Usage:  `YAML or JSON layer configuration file`,
			EnvVar: `LAYERSHIM_CONFIG`,
		},
		cli.StringFlag{
			Name:  `format, f`,
			Usage: `The output format of data returned (json or text).`,
			Value: `json`,
		},
	}

	app.Before = func(c *cli.Context) error {
		log.SetLevelString(c.String(`log-level`))

		cfg = config.New(nil)
		if path := c.String(`config`); path != `` {
			loaded, err := config.FromFile(path)
			if err != nil {
				log.Fatalf("Cannot load config: %v", err)
			}
			cfg = loaded
		}
		cfg = cfg.WithEnv(`LAYERSHIM`)
		log.Debugf("running on %s/%s", platform.GOOS(), platform.GOARCH())
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:  `race`,
			Usage: `Create devices while readers call into them, then destroy them.`,
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  `objects, n`,
					Usage: `Number of devices to create`,
					Value: 64,
				},
				cli.IntFlag{
					Name:  `readers, r`,
					Usage: `Concurrent callers per device`,
					Value: 4,
				},
				cli.DurationFlag{
					Name:  `build-delay`,
					Usage: `Time spent building each dispatch table`,
				},
				cli.StringFlag{
					Name:  `policy`,
					Usage: `Handle policy: shared or exclusive (overrides registry.policy)`,
				},
			},
			Action: func(c *cli.Context) {
				opts := raceOptions{
					Objects:    c.Int(`objects`),
					Readers:    c.Int(`readers`),
					BuildDelay: c.Duration(`build-delay`),
					Policy:     c.String(`policy`),
				}
				summary, err := runRace(context.Background(), cfg, opts)
				if err != nil {
					log.Fatalf("race: %v", err)
				}
				print(c, summary, func() { printSummary(summary) })
			},
		}, {
			Name:      `passthrough`,
			Usage:     `Load a library as the passthrough target and call a function in it.`,
			ArgsUsage: `FUNCTION [ARG...]`,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  `library, l`,
					Usage: `Library name or path (overrides next.library)`,
				},
				cli.IntSliceFlag{
					Name:  `version`,
					Usage: `Library version to try; may be repeated`,
				},
			},
			Action: func(c *cli.Context) {
				if c.NArg() == 0 {
					log.Fatalf("passthrough: missing function name")
				}
				res, err := runPassthrough(context.Background(), cfg, c.String(`library`), c.IntSlice(`version`), c.Args())
				if err != nil {
					log.Fatalf("passthrough: %v", err)
				}
				print(c, res, nil)
			},
		},
	}

	app.Run(os.Args)
}

func newLayer(cfg config.Config, opts ...layershim.Option) (*layershim.Layer, error) {
	logger, err := layershim.NewLogger(cfg.String(`log.level`, `warn`), cfg.String(`log.format`, `text`), os.Stderr)
	if err != nil {
		return nil, err
	}
	return layershim.New(`layerstress`, append([]layershim.Option{
		layershim.WithConfig(cfg),
		layershim.WithLogger(logger),
	}, opts...)...)
}

func print(c *cli.Context, data interface{}, txtfn func()) {
	if data == nil {
		return
	}
	switch c.GlobalString(`format`) {
	case `json`:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent(``, `  `)
		enc.Encode(data)
	default:
		if txtfn != nil {
			txtfn()
		} else {
			fmt.Printf("%+v\n", data)
		}
	}
}

func printSummary(s *raceSummary) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 1, '\t', 0)
	fmt.Fprintf(tw, "policy\t%s\n", s.Policy)
	fmt.Fprintf(tw, "objects\t%d\n", s.Objects)
	fmt.Fprintf(tw, "calls\t%d\n", s.Calls)
	for _, k := range outcomeOrder {
		fmt.Fprintf(tw, "%s\t%d\n", k, s.Outcomes[k])
	}
	for k, v := range s.Lookups {
		fmt.Fprintf(tw, "lookups.%s\t%d\n", k, v)
	}
	fmt.Fprintf(tw, "elapsed\t%s\n", s.Elapsed)
	tw.Flush()
}
