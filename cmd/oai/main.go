// The oai command harvests records or set lists from OAI-PMH repositories.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	harvester "github.com/MITLibraries/oai-pmh-harvester"
)

// app carries state shared by all subcommands.
type app struct {
	host    string
	output  string
	verbose bool

	cfg           *harvester.Config
	log           *zap.SugaredLogger
	alerter       harvester.Alerter
	sentryEnabled bool
	clientOptions []harvester.ClientOption
}

// client returns a protocol client configured from the environment.
func (a *app) client(opts ...harvester.ClientOption) *harvester.Client {
	all := []harvester.ClientOption{
		harvester.WithRequestsPerSecond(a.cfg.RequestsPerSecond),
		harvester.WithClientLogger(a.log),
	}
	all = append(all, opts...)
	all = append(all, a.clientOptions...)
	return harvester.NewClient(all...)
}

// create opens the output location and runs fn against it. The sink is
// always closed, so partial output still lands in a well formed file.
func (a *app) create(ctx context.Context, fn func(w io.Writer) error) error {
	sink, err := harvester.OpenSink(ctx, a.output)
	if err != nil {
		return err
	}
	err = fn(sink)
	if cerr := sink.Close(); cerr != nil {
		return errors.CombineErrors(err, cerr)
	}
	return err
}

func (a *app) setup() error {
	if err := harvester.CheckRequiredEnv(); err != nil {
		return err
	}
	cfg, err := harvester.LoadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg
	logger, msg := harvester.ConfigureLogger(a.verbose)
	a.log = logger.Sugar()
	a.log.Info(msg)

	enabled, msg, err := harvester.ConfigureSentry(cfg)
	if err != nil {
		return err
	}
	a.log.Info(msg)
	a.sentryEnabled = enabled
	if enabled {
		a.alerter = harvester.NewSentryAlerter(nil)
	} else {
		a.alerter = harvester.NewLogAlerter(a.log)
	}
	return nil
}

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "oai",
		Short:         "Harvest from OAI-PMH compliant sources",
		Version:       harvester.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.host, "host", "h", "",
		"Hostname of OAI-PMH server to harvest from, e.g. https://dspace.mit.edu/oai/request.")
	flags.StringVarP(&a.output, "output-file", "o", "",
		"Filepath to write output to. Can be a local filepath or an S3 URI, e.g. s3://bucketname/filename.xml.")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Optional: enable debug output.")
	// -h belongs to --host, so help is long form only on every subcommand.
	flags.Bool("help", false, "Help for oai.")
	cmd.MarkPersistentFlagRequired("host")
	cmd.MarkPersistentFlagRequired("output-file")

	cmd.AddCommand(newHarvestCommand(a), newSetlistCommand(a), newIdentifyCommand(a))
	return cmd
}

func newHarvestCommand(a *app) *cobra.Command {
	var (
		format, from, until, set string
		method, batch            string
		excludeDeleted           bool
	)
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest records from an OAI-PMH compliant source and write to an output file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m, err := harvester.ParseMethod(method)
			if err != nil {
				return err
			}
			b, err := harvester.ParseBatch(batch)
			if err != nil {
				return err
			}
			a.log.Infof("OAI-PMH harvesting from source %s with parameters: metadata_format=%s, "+
				"from_date=%s, until_date=%s, set=%s, exclude_deleted=%t",
				a.host, format, orNone(from), orNone(until), orNone(set), excludeDeleted)

			q := harvester.Query{
				Endpoint:       a.host,
				MetadataFormat: format,
				From:           from,
				Until:          until,
				Set:            set,
			}
			session := harvester.NewSession(a.client(harvester.WithBatch(b)), q,
				harvester.WithAlerter(a.alerter),
				harvester.WithLogger(a.log),
				harvester.WithMaxAllowedErrors(a.cfg.MaxAllowedErrors))
			records, err := session.Retrieve(ctx, m, excludeDeleted, a.cfg.SkipList())
			if err != nil {
				return err
			}
			writer := harvester.NewWriter(
				harvester.WithCheckpointInterval(a.cfg.StatusUpdateInterval),
				harvester.WithWriterLogger(a.log))

			a.log.Infof("Writing records to output file: %s", a.output)
			var count int
			err = a.create(ctx, func(w io.Writer) error {
				var err error
				count, err = writer.WriteRecords(records, w)
				return err
			})
			switch {
			case errors.Is(err, harvester.ErrNoRecordsMatch):
				a.log.Error("No records harvested: the combination of the provided options results in an empty list.")
				return nil
			case errors.Is(err, harvester.ErrMaxAllowedErrors):
				a.log.Errorf("Harvest aborted after %d records were written", count)
				return err
			case err != nil:
				a.alerter.Report(ctx, fmt.Sprintf("OAI-PMH harvest from %s failed: %v", a.host, err),
					map[string]any{"harvest_id": session.ID(), "records_written": count}, harvester.SeverityError)
				return err
			}
			if excludeDeleted {
				a.log.Infof("Harvest completed. Total records harvested (not including deleted records): %d", count)
			} else {
				a.log.Infof("Harvest completed. Total records harvested (including deleted records): %d", count)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&format, "metadata-format", "m", harvester.DefaultFormat,
		"Optional: alternate metadata format for harvested records (e.g. mods, mets, oai_dc, qdc, ore).")
	flags.StringVarP(&from, "from-date", "f", "",
		"Optional: starting date to harvest records from, in format YYYY-MM-DD.")
	flags.StringVarP(&until, "until-date", "u", "",
		"Optional: ending date to harvest records from, in format YYYY-MM-DD.")
	flags.StringVarP(&set, "set-spec", "s", "",
		"Optional: SetSpec of set to be harvested. Limits harvest to records in the provided set.")
	flags.StringVar(&method, "method", "get",
		`Method used to retrieve records, "get" (ListIdentifiers then GetRecord) or "list" (ListRecords).`)
	flags.BoolVar(&excludeDeleted, "exclude-deleted", false, "Optional: exclude deleted records from the output.")
	flags.StringVar(&batch, "batch", "none",
		"Optional: split list requests into date windows, none, weekly or monthly. Requires a from date.")
	return cmd
}

func newSetlistCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "setlist",
		Short: "Write the list of sets of an OAI-PMH source as JSON.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a.log.Infof("Getting set list from source: %s", a.host)
			session := harvester.NewSession(a.client(), harvester.Query{Endpoint: a.host},
				harvester.WithLogger(a.log))
			sets, err := session.Sets(ctx)
			if err != nil {
				return err
			}
			a.log.Infof("Writing setlist to output file %s", a.output)
			if err := a.create(ctx, func(w io.Writer) error {
				return harvester.NewWriter().WriteSetList(sets, w)
			}); err != nil {
				return err
			}
			a.log.Info("Setlist completed")
			return nil
		},
	}
}

func newIdentifyCommand(a *app) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "identify",
		Short: "Write repository information (identify, sets, formats) as JSON.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			info, err := harvester.AboutEndpoint(ctx, a.client(), a.host, timeout)
			if err != nil {
				return err
			}
			return a.create(ctx, func(w io.Writer) error {
				b, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				_, err = w.Write(b)
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Maximum time to wait for the repository.")
	return cmd
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

// run executes the command line and flushes pending alerts.
func run(ctx context.Context, args []string, opts ...harvester.ClientOption) error {
	a := &app{clientOptions: opts}
	cmd := newRootCommand(a)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err != nil && a.log != nil {
		a.log.Error(err)
	}
	if a.sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
