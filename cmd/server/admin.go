package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iliyamo/fracture-records/internal/service"
)

// adminCmd toggles the admin flag; there is no HTTP route for it.
func adminCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}
	cmd.AddCommand(
		setAdminCmd(v, "grant", "Make the user with this email an administrator", true),
		setAdminCmd(v, "revoke", "Remove administrator rights from the user with this email", false),
	)
	return cmd
}

func setAdminCmd(v *viper.Viper, use, short string, admin bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}
			if cfg.StoreDriver == "memory" {
				return fmt.Errorf("admin %s needs STORE_DRIVER=mysql; the memory store does not outlive this command", use)
			}
			log := newLogger(cfg)
			st, db, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			svc := service.NewAdminService(st, service.NewPatientService(st, nil, log), log)
			if err := svc.SetAdmin(cmd.Context(), args[0], admin); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: admin=%t\n", args[0], admin)
			return nil
		},
	}
}
