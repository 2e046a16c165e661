package main

import (
	"github.com/spf13/cobra"

	"github.com/qltv/library_service/internal/app/jobs"
	"github.com/qltv/library_service/internal/app/runtime"
)

var (
	adminName     string
	adminEmail    string
	adminPassword string
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator account unless the email is already registered",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApplication(cmd.Context(), func(a *runtime.Application) error {
			created, err := a.App().Accounts.EnsureAdmin(cmd.Context(), adminName, adminEmail, adminPassword)
			if err != nil {
				return err
			}
			if !created {
				out.Info("%s is already registered", adminEmail)
				return nil
			}
			out.Success("administrator %s created", adminEmail)
			return nil
		})
	},
}

var sweepOverdueCmd = &cobra.Command{
	Use:   "sweep-overdue",
	Short: "Mark loans past their due date as overdue and assess fines",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApplication(cmd.Context(), func(a *runtime.Application) error {
			if err := a.App().Jobs.RunNow(cmd.Context(), jobs.JobOverdueSweep); err != nil {
				return err
			}
			overdue, err := a.App().Loans.Overdue(cmd.Context())
			if err != nil {
				return err
			}
			out.Success("overdue sweep finished; %d loans are overdue", len(overdue))
			return nil
		})
	},
}

func init() {
	createAdminCmd.Flags().StringVar(&adminName, "name", "Administrator", "Display name")
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "Login email")
	createAdminCmd.Flags().StringVar(&adminPassword, "password", "", "Initial password")
	_ = createAdminCmd.MarkFlagRequired("email")
	_ = createAdminCmd.MarkFlagRequired("password")
}
