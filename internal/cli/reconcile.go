package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirdesai22/leadsync/internal/reconcile"
	"github.com/spf13/cobra"
)

type reconcileOptions struct {
	replaceCatalog bool
}

func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &reconcileOptions{}
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Repair drift between the canonical store and the CRM",
		Long: `Scan the missions and leads databases of the CRM and bring both stores
back in line. With --replace-catalog the stored mission catalog is replaced
by the CRM's missions database instead; completions are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.wire(appOptions{}); err != nil {
				return err
			}
			job := a.reconciler()
			if job == nil {
				return errNotionDisabled
			}

			var report reconcile.Report
			if opts.replaceCatalog {
				report, err = job.ReplaceCatalog(cmd.Context())
			} else {
				report, err = job.Reconcile(cmd.Context())
			}
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), rootOpts.Format, report)
		},
	}
	cmd.Flags().BoolVar(&opts.replaceCatalog, "replace-catalog", false, "replace the mission catalog from the CRM")
	return cmd
}

func writeReport(w io.Writer, format string, r reconcile.Report) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	fmt.Fprintf(w, "scanned=%d created=%d updated=%d pushed=%d conflicts=%d failures=%d\n",
		r.Scanned, r.Created, r.Updated, r.Pushed, len(r.Conflicts), len(r.Failures))
	for _, c := range r.Conflicts {
		fmt.Fprintf(w, "conflict: %v\n", c)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "failure: %s %s: %s\n", f.Entity, f.Identity, f.Error)
	}
	return nil
}
