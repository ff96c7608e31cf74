package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/archive"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/auth"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/database"
	"github.com/davidleathers/sar-claim-pipeline/internal/service"
)

type issuedToken struct {
	Token     string   `json:"token"`
	Subject   string   `json:"subject"`
	Roles     []string `json:"roles"`
	ExpiresIn int64    `json:"expires_in_seconds"`
}

func (a *app) tokenCmd() *cobra.Command {
	var (
		subject string
		roles   []string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token signed with server.auth.jwt_secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Server.Auth.JWTSecret == "" {
				return errors.NewValidationError("INVALID_AUTH_CONFIG", "server.auth.jwt_secret is not configured")
			}
			svc, err := auth.NewService(auth.Config{
				Secret:   []byte(a.cfg.Server.Auth.JWTSecret),
				Issuer:   a.cfg.Server.Auth.Issuer,
				TokenTTL: a.cfg.Server.Auth.TokenTTL,
			})
			if err != nil {
				return err
			}
			tok, err := svc.GenerateToken(subject, roles)
			if err != nil {
				return err
			}
			return a.printJSON(issuedToken{
				Token:     tok,
				Subject:   subject,
				Roles:     roles,
				ExpiresIn: int64(a.cfg.Server.Auth.TokenTTL / time.Second),
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "user the token is issued to")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role granted by the token (repeatable)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

// archiver connects to the configured database and bucket. The returned
// func releases the database pool.
func (a *app) archiver(ctx context.Context) (*archive.Archiver, func(), error) {
	if a.cfg.Database.URL == "" {
		return nil, nil, errors.NewValidationError("INVALID_DATABASE_CONFIG", "database.url is required to archive cases")
	}
	objects, err := archive.NewS3Store(ctx, &a.cfg.Archive)
	if err != nil {
		return nil, nil, err
	}
	pool, err := database.Connect(ctx, &a.cfg.Database, a.logger.Named("database"))
	if err != nil {
		return nil, nil, err
	}
	store := database.NewStore(pool, a.logger.Named("database"))
	svcs := service.NewServiceFactories(a.cfg, store, a.logger).Build()

	arch := archive.NewArchiver(objects, svcs.Trail, svcs.Claims, svcs.Finalizer, archive.Config{
		Prefix:        a.cfg.Archive.Prefix,
		RetentionDays: a.cfg.Archive.RetentionDays,
	}, a.logger.Named("archive"))
	return arch, store.Close, nil
}

func (a *app) archiveCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Write case bundles to the archive bucket and verify them",
	}
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "operation timeout")

	var actor string
	create := &cobra.Command{
		Use:   "create <case-id>",
		Short: "Archive a case's audit trail, claims and filings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			arch, done, err := a.archiver(ctx)
			if err != nil {
				return err
			}
			defer done()

			m, err := arch.ArchiveCase(ctx, args[0], actor)
			if err != nil {
				return err
			}
			return a.printJSON(m)
		},
	}
	create.Flags().StringVar(&actor, "actor", "system", "user recorded on the manifest")

	verify := &cobra.Command{
		Use:   "verify <case-id> <archive-id>",
		Short: "Re-check an archived bundle against its manifest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			arch, done, err := a.archiver(ctx)
			if err != nil {
				return err
			}
			defer done()

			res, err := arch.VerifyArchive(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if err := a.printJSON(res); err != nil {
				return err
			}
			if !res.IsValid {
				return fmt.Errorf("archive %s failed verification", args[1])
			}
			return nil
		},
	}

	cmd.AddCommand(create, verify)
	return cmd
}
