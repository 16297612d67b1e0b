package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/screenager/proxima/internal/ann"
	"github.com/screenager/proxima/internal/index"
	"github.com/screenager/proxima/internal/tui"
	"github.com/screenager/proxima/internal/vecio"
	"github.com/screenager/proxima/internal/vecmath"
	"github.com/screenager/proxima/internal/watcher"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	root := &cobra.Command{
		Use:           "proxima",
		Short:         "In-memory approximate nearest-neighbour search",
		Long:          "proxima — build HNSW, SA-Tree or small-world graph indexes over fvecs datasets and query them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaults := index.DefaultParams()

	// .proxima.toml supplies defaults; flags still win.
	var cfg struct {
		M              int   `toml:"m"`
		M0             int   `toml:"m0"`
		EfConstruction int   `toml:"ef-construction"`
		EfSearch       int   `toml:"ef-search"`
		Fanout         int   `toml:"fanout"`
		Degree         int   `toml:"degree"`
		Restarts       int   `toml:"restarts"`
		Seed           int64 `toml:"seed"`
	}
	if b, err := os.ReadFile(".proxima.toml"); err == nil {
		if err := toml.Unmarshal(b, &cfg); err == nil {
			if cfg.M > 0 {
				defaults.M = cfg.M
			}
			if cfg.M0 > 0 {
				defaults.M0 = cfg.M0
			}
			if cfg.EfConstruction > 0 {
				defaults.EfConstruction = cfg.EfConstruction
			}
			if cfg.EfSearch > 0 {
				defaults.EfSearch = cfg.EfSearch
			}
			if cfg.Fanout > 0 {
				defaults.Fanout = cfg.Fanout
			}
			if cfg.Degree > 0 {
				defaults.Degree = cfg.Degree
			}
			if cfg.Restarts > 0 {
				defaults.Restarts = cfg.Restarts
			}
			if cfg.Seed != 0 {
				defaults.Seed = cfg.Seed
			}
		} else {
			log.Warn().Err(err).Msg("ignoring malformed .proxima.toml")
		}
	}

	var (
		dataset string
		kindStr string
		k       int
		params  = defaults
	)
	pf := root.PersistentFlags()
	pf.StringVarP(&dataset, "dataset", "f", "", "dataset directory (base.fvecs, query.fvecs, groundtruth.ivecs)")
	pf.StringVarP(&kindStr, "type", "t", "hnsw", "index kind: hnsw | sa_tree | swng")
	pf.IntVarP(&k, "topk", "k", 10, "number of neighbours to return")
	pf.IntVar(&params.M, "m", defaults.M, "hnsw: max degree on layers above 0")
	pf.IntVar(&params.M0, "m0", defaults.M0, "hnsw: max degree on layer 0")
	pf.IntVar(&params.EfConstruction, "ef-construction", defaults.EfConstruction, "hnsw: build frontier size")
	pf.IntVar(&params.EfSearch, "ef-search", defaults.EfSearch, "hnsw: search frontier size")
	pf.IntVar(&params.Fanout, "fanout", defaults.Fanout, "swng: greedy restarts during build")
	pf.IntVar(&params.Degree, "degree", defaults.Degree, "swng: neighbours attached per insertion")
	pf.IntVar(&params.Restarts, "restarts", defaults.Restarts, "swng: greedy restarts during search")
	pf.Int64Var(&params.Seed, "seed", defaults.Seed, "RNG seed for reproducible builds")

	// buildIndex loads the dataset and builds the requested index, with a
	// \r-rewriting progress line on stderr for long builds.
	buildIndex := func() (*index.Index, *index.Dataset, error) {
		if dataset == "" {
			return nil, nil, fmt.Errorf("--dataset is required")
		}
		kind, err := index.ParseKind(kindStr)
		if err != nil {
			return nil, nil, err
		}
		ds, err := index.LoadDataset(dataset)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Int("vectors", ds.N).Int("dims", ds.Dim).Int("queries", ds.QueryN).
			Str("kind", string(kind)).Msg("building index")

		ix, err := index.BuildWithProgress(ds.Base, ds.Dim, ds.N, kind, params, func(done, total int) {
			if done%10000 == 0 || done == total {
				fmt.Fprintf(os.Stderr, "\r  inserted %d/%d vectors", done, total)
				if done == total {
					fmt.Fprintln(os.Stderr, "")
				}
			}
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info().Dur("build", ix.BuildTime()).Msg("index ready")
		return ix, ds, nil
	}

	// ---- proxima bench -----------------------------------------------------
	var threadList string
	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Build an index and measure search throughput and recall over the query set",
		RunE: func(cmd *cobra.Command, args []string) error {
			threads, err := parseThreadList(threadList)
			if err != nil {
				return err
			}
			ix, ds, err := buildIndex()
			if err != nil {
				return err
			}
			if ds.QueryN == 0 {
				return fmt.Errorf("dataset has no query vectors")
			}

			fmt.Printf("Base dimension: %d\n", ds.Dim)
			fmt.Printf("Base num vectors: %d\n", ds.N)
			fmt.Printf("Query num vectors: %d\n", ds.QueryN)
			fmt.Printf("Indexing time: %d ms\n", ix.BuildTime().Milliseconds())

			for _, nThreads := range threads {
				results, elapsed, err := searchAll(ix, ds, k, nThreads)
				if err != nil {
					return err
				}

				qps := float64(ds.QueryN) / elapsed.Seconds()
				fmt.Printf("\nNumber of search threads: %d\n", nThreads)
				fmt.Printf("Search time: %d ms\n", elapsed.Milliseconds())
				fmt.Printf("Queries per second: %.1f\n", qps)

				var visited int
				for _, res := range results {
					visited += res.NodesVisited
				}
				fmt.Printf("Avg nodes visited: %d/%d\n", visited/ds.QueryN, ds.N)

				if ds.GTDim > 0 {
					var recall float64
					for i, res := range results {
						recall += index.Recall(res.Records, ds.Truth(i), k)
					}
					fmt.Printf("Average recall@%d: %.4f\n", k, recall/float64(ds.QueryN))
				}
			}

			if stats, err := ix.GraphStats(); err == nil {
				fmt.Printf("\nDegree avg/max/min: %d/%d/%d\n", stats.AvgDegree, stats.MaxDegree, stats.MinDegree)
			}
			return nil
		},
	}
	benchCmd.Flags().StringVar(&threadList, "search-threads", "1", "comma-separated search worker counts, e.g. 1,2,8")
	root.AddCommand(benchCmd)

	// ---- proxima query -----------------------------------------------------
	var queryID int
	queryCmd := &cobra.Command{
		Use:   "query [components...]",
		Short: "Build an index and answer a single query",
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, ds, err := buildIndex()
			if err != nil {
				return err
			}

			var query []float32
			switch {
			case len(args) > 0:
				query, err = parseVector(strings.Join(args, " "), ds.Dim)
				if err != nil {
					return err
				}
			case queryID >= 0 && queryID < ds.QueryN:
				query = ds.Query(queryID)
			default:
				return fmt.Errorf("pass vector components or --id in [0,%d)", ds.QueryN)
			}

			res, err := ix.Search(query, k)
			if err != nil {
				return err
			}
			for i, rec := range res.Records {
				fmt.Printf("%2d  #%-8d %.6f\n", i+1, rec.Handle, rec.Distance)
			}
			log.Info().Int("visited", res.NodesVisited).Dur("elapsed", res.Elapsed).Msg("search done")
			return nil
		},
	}
	queryCmd.Flags().IntVar(&queryID, "id", -1, "use the dataset's i-th query vector")
	root.AddCommand(queryCmd)

	// ---- proxima stats -----------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Build an index and print its graph statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, _, err := buildIndex()
			if err != nil {
				return err
			}
			fmt.Printf("kind:       %s\n", ix.Kind())
			fmt.Printf("vectors:    %d\n", ix.Len())
			fmt.Printf("dimensions: %d\n", ix.Dim())
			fmt.Printf("build time: %s\n", ix.BuildTime().Round(time.Millisecond))
			if stats, err := ix.GraphStats(); err == nil {
				fmt.Printf("avg degree: %d\n", stats.AvgDegree)
				fmt.Printf("max degree: %d\n", stats.MaxDegree)
				fmt.Printf("min degree: %d\n", stats.MinDegree)
			}
			return nil
		},
	})

	// ---- proxima gen -------------------------------------------------------
	var genDim, genN, genQueries, genK int
	genCmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a random dataset with brute-force ground truth",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataset == "" {
				return fmt.Errorf("--dataset is required")
			}
			if genDim < 1 || genN < 1 || genQueries < 1 || genK < 1 {
				return fmt.Errorf("--dim, --count, --queries and --truth-k must all be >= 1")
			}
			if err := os.MkdirAll(dataset, 0o755); err != nil {
				return err
			}

			rng := vecmath.NewRNG(params.Seed)
			base := make([]float32, genN*genDim)
			for i := range base {
				base[i] = float32(rng.Float64())
			}
			queries := make([]float32, genQueries*genDim)
			for i := range queries {
				queries[i] = float32(rng.Float64())
			}

			log.Info().Int("vectors", genN).Int("queries", genQueries).Int("dims", genDim).
				Msg("computing ground truth")
			gt := make([]int32, genQueries*genK)
			for q := 0; q < genQueries; q++ {
				exact := index.BruteForce(base, genDim, genN, queries[q*genDim:(q+1)*genDim], genK)
				for j, rec := range exact {
					gt[q*genK+j] = int32(rec.Handle)
				}
			}

			if err := vecio.WriteFvecs(dataset+"/base.fvecs", base, genDim); err != nil {
				return err
			}
			if err := vecio.WriteFvecs(dataset+"/query.fvecs", queries, genDim); err != nil {
				return err
			}
			if err := vecio.WriteIvecs(dataset+"/groundtruth.ivecs", gt, genK); err != nil {
				return err
			}
			log.Info().Str("dir", dataset).Msg("dataset written")
			return nil
		},
	}
	genCmd.Flags().IntVar(&genDim, "dim", 32, "vector dimension")
	genCmd.Flags().IntVar(&genN, "count", 10000, "number of base vectors")
	genCmd.Flags().IntVar(&genQueries, "queries", 100, "number of query vectors")
	genCmd.Flags().IntVar(&genK, "truth-k", 100, "ground-truth neighbours per query")
	root.AddCommand(genCmd)

	// ---- proxima watch -----------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Build an index and rebuild whenever the dataset changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := buildIndex(); err != nil {
				return err
			}

			w, err := watcher.New(log, func() error {
				_, _, err := buildIndex()
				return err
			})
			if err != nil {
				return err
			}

			done := make(chan struct{})
			go func() {
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
				<-sig
				close(done)
			}()

			log.Info().Str("dir", dataset).Msg("watching for dataset changes (Ctrl+C to stop)")
			return w.Watch(dataset, done)
		},
	})

	// ---- proxima tui -------------------------------------------------------
	root.AddCommand(&cobra.Command{
		Use:   "tui",
		Short: "Build an index and launch the interactive query explorer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, ds, err := buildIndex()
			if err != nil {
				return err
			}
			m := tui.New(ix, ds, k)
			p := tea.NewProgram(m, tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	})

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("failed")
		os.Exit(1)
	}
}

// searchAll runs every dataset query through the index using nThreads
// workers and returns the per-query results in query order.
func searchAll(ix *index.Index, ds *index.Dataset, k, nThreads int) ([]ann.Result, time.Duration, error) {
	if nThreads < 1 {
		nThreads = 1
	}
	results := make([]ann.Result, ds.QueryN)
	jobs := make(chan int)
	var wg sync.WaitGroup
	var firstErr error
	var errOnce sync.Once

	start := time.Now()
	for w := 0; w < nThreads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res, err := ix.Search(ds.Query(i), k)
				if err != nil {
					errOnce.Do(func() { firstErr = err })
					continue
				}
				results[i] = res
			}
		}()
	}
	for i := 0; i < ds.QueryN; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results, time.Since(start), firstErr
}

// parseThreadList parses "1,2,8" into worker counts.
func parseThreadList(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("bad thread count %q", p)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		out = []int{1}
	}
	return out, nil
}

// parseVector parses whitespace/comma separated components.
func parseVector(s string, dim int) ([]float32, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) != dim {
		return nil, fmt.Errorf("got %d components, dataset has %d dims", len(fields), dim)
	}
	vec := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("bad component %q", f)
		}
		vec[i] = float32(v)
	}
	return vec, nil
}
