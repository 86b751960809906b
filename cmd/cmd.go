/*
	Travelog
	Copyright (c) 2019 the Travelog authors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package travelcmd facilitates the command line interface and
// implements the main().
package travelcmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/travelog/travelog/photos"
	"github.com/travelog/travelog/sources"
	"github.com/travelog/travelog/travel"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

// Main runs the travelog CLI. It only returns indirectly, by exiting
// the process.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "travelog",
		Usage: "derive place visits, routes, and trips from raw location history",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "repo",
				Aliases: []string{"r"},
				Value:   defaultRepoDir(),
				Usage:   "path of the travelog repository",
				EnvVars: []string{"TRAVELOG_REPO"},
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path of a JSON config file",
				EnvVars: []string{"TRAVELOG_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			initCmd,
			sourcesCmd,
			ingestCmd,
			processCmd,
			geocodeCmd,
			tripsCmd,
			exportCmd,
			photosCmd,
			demoCmd,
			serveCmd,
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		travel.Log.Fatal("command failed", zap.Error(err))
	}
}

// defaultRepoDir is where the repository lives unless -repo or
// $TRAVELOG_REPO says otherwise.
func defaultRepoDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "travelog"
	}
	return filepath.Join(home, "Travelog")
}

func loadConfig(c *cli.Context) (travel.Config, error) {
	var cfg travel.Config
	path := c.String("config")
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding config file %s: %w", path, err)
	}
	return cfg, nil
}

func openRepo(c *cli.Context) (*travel.Timeline, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return travel.Open(c.Context, c.String("repo"), cfg)
}

// timeWindow reads the optional -from and -to flags. Zero values mean
// unbounded; the store treats them that way too.
func timeWindow(c *cli.Context) (from, to time.Time) {
	if ts := c.Timestamp("from"); ts != nil {
		from = *ts
	}
	if ts := c.Timestamp("to"); ts != nil {
		to = *ts
	}
	return from, to
}

var initCmd = &cli.Command{
	Name:  "init",
	Usage: "create and provision a repository",
	Action: func(c *cli.Context) error {
		tl, err := openRepo(c)
		if err != nil {
			return err
		}
		defer tl.Close()
		fmt.Printf("repository ready at %s (id %s)\n", tl.Dir(), tl.ID())
		return nil
	},
}

var sourcesCmd = &cli.Command{
	Name:  "sources",
	Usage: "list the file formats that can be ingested",
	Action: func(c *cli.Context) error {
		for _, src := range sources.All() {
			fmt.Printf("%-10s %-14s %s\n", src.Name, strings.Join(src.Extensions, " "), src.Description)
		}
		return nil
	},
}

var ingestCmd = &cli.Command{
	Name:      "ingest",
	Usage:     "import location files into the repository",
	ArgsUsage: "<path>...",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "user",
			Aliases:  []string{"u"},
			Required: true,
			Usage:    "owner of the imported samples",
		},
		&cli.StringFlag{
			Name:    "source",
			Aliases: []string{"s"},
			Usage:   "source name (see the sources command); recognized per path when omitted",
		},
		&cli.IntFlag{
			Name:  "reference-year",
			Usage: "century anchor for formats that carry two-digit years",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return errors.New("at least one path to ingest is required")
		}
		tl, err := openRepo(c)
		if err != nil {
			return err
		}
		defer tl.Close()

		opt := sources.ReaderOptions{ReferenceYear: c.Int("reference-year")}
		ing, err := sources.NewIngester(tl, c.String("user"), opt)
		if err != nil {
			return err
		}
		for _, root := range c.Args().Slice() {
			src, err := pickSource(c.Context, c.String("source"), root)
			if err != nil {
				return err
			}
			if err := ing.IngestPath(c.Context, src, root); err != nil {
				return fmt.Errorf("ingesting %s: %w", root, err)
			}
		}

		stats := ing.Stats()
		fmt.Printf("stored %d samples from %d files\n", stats.Stored, stats.FilesRead)
		for reason, n := range stats.Rejected {
			fmt.Printf("rejected %d samples: %s\n", n, reason)
		}
		if stats.Stored > 0 {
			fmt.Println("run `travelog process` to derive visits, routes, and trips")
		}
		return nil
	},
}

// pickSource resolves which source to read root with: the one named
// explicitly, or the best recognition.
func pickSource(ctx context.Context, name, root string) (sources.Source, error) {
	if name != "" {
		return sources.ByName(name)
	}
	recs, err := sources.Recognize(ctx, root)
	if err != nil {
		return sources.Source{}, fmt.Errorf("recognizing %s: %w", root, err)
	}
	if len(recs) == 0 {
		return sources.Source{}, fmt.Errorf("no source recognizes %s; name one with -source", root)
	}
	travel.Log.Info("recognized source",
		zap.String("path", root),
		zap.String("source", recs[0].Source.Name),
		zap.Float64("confidence", recs[0].Confidence))
	return recs[0].Source, nil
}

var processCmd = &cli.Command{
	Name:  "process",
	Usage: "run a processing pass over stored samples",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "user",
			Aliases: []string{"u"},
			Usage:   "process one user; everyone when omitted",
		},
	},
	Action: func(c *cli.Context) error {
		tl, err := openRepo(c)
		if err != nil {
			return err
		}
		defer tl.Close()

		if user := c.String("user"); user != "" {
			res, err := tl.RunPass(c.Context, user)
			if err != nil {
				return err
			}
			printPassResult(res)
			return nil
		}
		results, err := tl.RunAllPasses(c.Context)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("no users have samples yet")
		}
		for _, res := range results {
			printPassResult(res)
		}
		return nil
	},
}

func printPassResult(res travel.PassResult) {
	fmt.Printf("%s: %s (%d visits, %d routes, %d trips, %d samples skipped) in %s\n",
		res.UserID, res.Status, res.Visits, res.Routes, res.Trips, res.Skipped,
		res.Duration.Round(time.Millisecond))
}

var geocodeCmd = &cli.Command{
	Name:  "geocode",
	Usage: "fill in city and country for visits that lack them",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "endpoint",
			Usage: "Nominatim endpoint; the public instance when omitted",
		},
		&cli.IntFlag{
			Name:  "limit",
			Value: 100,
			Usage: "maximum number of visits to look up in this run",
		},
	},
	Action: func(c *cli.Context) error {
		tl, err := openRepo(c)
		if err != nil {
			return err
		}
		defer tl.Close()

		g := travel.NewNominatimGeocoder(c.String("endpoint"), tl.Config().GeocodePerSecond)
		n, err := tl.EnrichVisits(c.Context, g, c.Int("limit"))
		if err != nil {
			return err
		}
		fmt.Printf("enriched %d visits\n", n)
		return nil
	},
}

var tripsCmd = &cli.Command{
	Name:  "trips",
	Usage: "list the trips derived for a user",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "user",
			Aliases:  []string{"u"},
			Required: true,
			Usage:    "whose trips to list",
		},
		&cli.TimestampFlag{Name: "from", Layout: dateLayout, Usage: "only trips starting on or after this date"},
		&cli.TimestampFlag{Name: "to", Layout: dateLayout, Usage: "only trips starting before this date"},
	},
	Action: func(c *cli.Context) error {
		tl, err := openRepo(c)
		if err != nil {
			return err
		}
		defer tl.Close()

		from, to := timeWindow(c)
		trips, err := tl.ListTrips(c.Context, c.String("user"), from, to)
		if err != nil {
			return err
		}
		if len(trips) == 0 {
			fmt.Println("no trips; ingest samples and run `travelog process` first")
			return nil
		}
		for _, trip := range trips {
			fmt.Printf("%s  %s to %s (%d days)\n",
				trip.ID, trip.Start.Format(dateLayout), trip.End.Format(dateLayout), len(trip.Days))
			for _, day := range trip.Days {
				var visits, routes int
				for _, item := range day.Items {
					switch item.Kind {
					case travel.ItemVisit:
						visits++
					case travel.ItemRoute:
						routes++
					}
				}
				fmt.Printf("  %s: %d visits, %d routes\n", day.Date, visits, routes)
			}
		}
		return nil
	},
}

var exportCmd = &cli.Command{
	Name:  "export",
	Usage: "write a user's visits and routes as GeoJSON",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "user",
			Aliases:  []string{"u"},
			Required: true,
			Usage:    "whose timeline to export",
		},
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Value:   "-",
			Usage:   "output file; - for stdout",
		},
		&cli.TimestampFlag{Name: "from", Layout: dateLayout, Usage: "only visits and routes starting on or after this date"},
		&cli.TimestampFlag{Name: "to", Layout: dateLayout, Usage: "only visits and routes starting before this date"},
	},
	Action: func(c *cli.Context) error {
		tl, err := openRepo(c)
		if err != nil {
			return err
		}
		defer tl.Close()

		var w io.Writer = os.Stdout
		if out := c.String("out"); out != "-" {
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		from, to := timeWindow(c)
		return tl.ExportGeoJSON(c.Context, w, c.String("user"), from, to)
	},
}

var photosCmd = &cli.Command{
	Name:      "photos",
	Usage:     "match photos to the visits they were taken at",
	ArgsUsage: "<photo>...",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "user",
			Aliases:  []string{"u"},
			Required: true,
			Usage:    "whose visits to match against",
		},
		&cli.Float64Flag{
			Name:  "threshold",
			Value: 1,
			Usage: "minimum combined score for a confident match",
		},
		&cli.BoolFlag{
			Name:  "all",
			Usage: "print the full ranking for each photo, not just the best match",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return errors.New("at least one photo file is required")
		}
		tl, err := openRepo(c)
		if err != nil {
			return err
		}
		defer tl.Close()

		visits, err := tl.ListVisits(c.Context, c.String("user"), time.Time{}, time.Time{})
		if err != nil {
			return err
		}
		if len(visits) == 0 {
			return errors.New("no visits to match against; run `travelog process` first")
		}
		byID := make(map[string]travel.PlaceVisit, len(visits))
		for _, v := range visits {
			byID[v.ID] = v
		}

		var matcher photos.Matcher
		for _, path := range c.Args().Slice() {
			meta, err := readPhotoMeta(path)
			if err != nil {
				travel.Log.Warn("skipping photo", zap.String("file", path), zap.Error(err))
				continue
			}
			if meta.Taken.IsZero() && meta.Location == nil {
				fmt.Printf("%s: no capture time or GPS position in EXIF\n", filepath.Base(path))
				continue
			}

			if c.Bool("all") {
				fmt.Printf("%s:\n", filepath.Base(path))
				for _, s := range matcher.Rank(meta, visits) {
					fmt.Printf("  %.2f (time %.2f, distance %.2f)  %s\n",
						s.Total, s.TimeScore, s.DistanceScore, visitLabel(byID[s.VisitID]))
				}
				continue
			}

			best, ok := matcher.BestMatch(meta, visits)
			if !ok || best.Total < c.Float64("threshold") {
				fmt.Printf("%s: no confident match\n", filepath.Base(path))
				continue
			}
			fmt.Printf("%s: %s (score %.2f)\n", filepath.Base(path), visitLabel(byID[best.VisitID]), best.Total)
		}
		return nil
	},
}

func readPhotoMeta(path string) (photos.PhotoMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return photos.PhotoMeta{}, err
	}
	defer f.Close()
	meta, err := photos.ReadMeta(f)
	if err != nil {
		return photos.PhotoMeta{}, err
	}
	meta.Path = path
	return meta, nil
}

func visitLabel(v travel.PlaceVisit) string {
	where := fmt.Sprintf("%.4f,%.4f", v.Center.Latitude, v.Center.Longitude)
	if v.City != "" {
		where = v.City
		if v.Country != "" {
			where += ", " + v.Country
		}
	}
	return fmt.Sprintf("visit %s at %s starting %s", v.ID, where, v.Start.Format("2006-01-02 15:04"))
}

var demoCmd = &cli.Command{
	Name:  "demo",
	Usage: "fill the repository with generated sample data and process it",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "user",
			Aliases: []string{"u"},
			Value:   "demo",
			Usage:   "user to attribute the generated samples to",
		},
		&cli.IntFlag{
			Name:  "days",
			Value: 14,
			Usage: "how many days of history to generate",
		},
		&cli.Uint64Flag{
			Name:  "seed",
			Value: 1,
			Usage: "random seed; the same seed reproduces the same history",
		},
	},
	Action: func(c *cli.Context) error {
		tl, err := openRepo(c)
		if err != nil {
			return err
		}
		defer tl.Close()

		user := c.String("user")
		n, err := tl.GenerateDemo(c.Context, user, c.Int("days"), c.Uint64("seed"))
		if err != nil {
			return err
		}
		fmt.Printf("generated %d samples for %s\n", n, user)

		res, err := tl.RunPass(c.Context, user)
		if err != nil {
			return err
		}
		printPassResult(res)
		return nil
	},
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "serve Prometheus metrics and a live log feed over HTTP",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "listen",
			Aliases: []string{"l"},
			Value:   "127.0.0.1:9190",
			Usage:   "address to listen on",
		},
		&cli.DurationFlag{
			Name:  "process-every",
			Usage: "also run processing passes on this interval; 0 disables",
		},
	},
	Action: func(c *cli.Context) error {
		tl, err := openRepo(c)
		if err != nil {
			return err
		}
		defer tl.Close()

		if every := c.Duration("process-every"); every > 0 {
			go runPassesOnTicker(c.Context, tl, every)
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/logs", logSocket)

		srv := &http.Server{
			Addr:              c.String("listen"),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		errc := make(chan error, 1)
		go func() { errc <- srv.ListenAndServe() }()
		travel.Log.Info("serving", zap.String("listen", srv.Addr))

		select {
		case err := <-errc:
			return err
		case <-c.Context.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	},
}

func runPassesOnTicker(ctx context.Context, tl *travel.Timeline, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := tl.RunAllPasses(ctx); err != nil {
				travel.Log.Error("scheduled processing failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

var logUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// logSocket upgrades the connection and subscribes it to the log
// broadcast until the client goes away.
func logSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := logUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	travel.AddLogConn(conn)
	defer travel.RemoveLogConn(conn)

	// Client messages carry nothing, but reading them answers pings
	// and notices closure.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
