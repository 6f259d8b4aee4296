package cli

import (
	"fmt"

	"github.com/sirdesai22/leadsync/internal/db"
	"github.com/sirdesai22/leadsync/internal/models"
	"github.com/spf13/cobra"
)

type seedOptions struct {
	file string
	push bool
}

func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert missing missions from the catalog file",
		Long: `Insert every mission of the catalog file whose key is not stored yet.
Existing missions are left untouched. With --push the new missions are
written to the CRM right away instead of waiting for the outbox.`,
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

			path := opts.file
			if path == "" {
				path = a.cfg.MissionsSeedFile
			}
			catalog, err := db.LoadMissions(path)
			if err != nil {
				return fmt.Errorf("load %s: %w", path, err)
			}
			created, err := db.Seed(a.db, catalog, a.log)
			if err != nil {
				return err
			}

			if opts.push && a.notion != nil {
				res := a.bridge.SyncBatch(cmd.Context(), models.EntityMission, created)
				for _, err := range res.Errors {
					a.log.Warn("mission push failed", "err", err)
				}
				a.log.Info("missions pushed", "pushed", res.Pushed, "failed", res.Failed)
			} else {
				for _, id := range created {
					a.bridge.EnqueueEntity(cmd.Context(), models.EntityMission, id, nil)
				}
			}
			if _, err := a.missions.RefreshAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d of %d missions\n", len(created), len(catalog))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.file, "file", "", "catalog file (default MISSIONS_SEED_FILE)")
	cmd.Flags().BoolVar(&opts.push, "push", false, "push new missions to the CRM immediately")
	return cmd
}
