package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/evidence"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/rules"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/scoring"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/memory"
	"github.com/davidleathers/sar-claim-pipeline/internal/service"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/claimgen"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/omega"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/pipeline"
)

type evaluation struct {
	CaseID      string            `json:"case_id"`
	RuleResults *rules.Evaluation `json:"rule_results"`
	FraudScores scoring.Scores    `json:"fraud_scores"`
}

type verification struct {
	ClaimID string `json:"claim_id"`
	Valid   bool   `json:"valid"`
	Error   string `json:"error,omitempty"`
}

func (a *app) services() *service.Services {
	return service.NewServiceFactories(a.cfg, memory.NewStore(), a.logger).Build()
}

// evaluate normalizes a case and runs the rules and scorer over it.
func (a *app) evaluate(svcs *service.Services, path string) (*evidence.NormalizedData, *evaluation, error) {
	var raw evidence.RawCase
	if err := readJSON(path, &raw); err != nil {
		return nil, nil, err
	}
	data, err := svcs.Normalizer.Normalize(raw)
	if err != nil {
		return nil, nil, err
	}
	eval, err := svcs.Engine.Evaluate(data)
	if err != nil {
		return nil, nil, err
	}
	return data, &evaluation{
		CaseID:      data.CaseID,
		RuleResults: eval,
		FraudScores: svcs.Scorer.Score(data, eval),
	}, nil
}

func (a *app) evaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <case.json>",
		Short: "Run the detection rules and fraud scorer on a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, res, err := a.evaluate(a.services(), args[0])
			if err != nil {
				return err
			}
			return a.printJSON(res)
		},
	}
}

func (a *app) generateCmd() *cobra.Command {
	var (
		userID       string
		jurisdiction []string
	)
	cmd := &cobra.Command{
		Use:   "generate <case.json>",
		Short: "Generate a sealed claim object for a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svcs := a.services()
			data, res, err := a.evaluate(svcs, args[0])
			if err != nil {
				return err
			}
			obj, err := svcs.Generator.Generate(claimgen.Input{
				CaseID:       data.CaseID,
				AlertIDs:     data.AlertIDs(),
				UserID:       userID,
				Customer:     claimgen.CustomerFromCase(data),
				Transactions: data.Transactions,
				Evaluation:   res.RuleResults,
				FraudScores:  res.FraudScores,
				Jurisdiction: jurisdiction,
			})
			if err != nil {
				return err
			}
			return a.printJSON(obj)
		},
	}
	cmd.Flags().StringVar(&userID, "user", claimgen.SystemUser, "user recorded on the claim")
	cmd.Flags().StringSliceVar(&jurisdiction, "jurisdiction", nil, "filing jurisdictions (default from config)")
	return cmd
}

func (a *app) validateCmd() *cobra.Command {
	var narrativeFile string
	cmd := &cobra.Command{
		Use:   "validate <claim.json>",
		Short: "Run the regulatory readiness checklist on a claim",
		Long: `Validate runs the ten-point readiness checklist on a sealed claim and a
narrative. The command fails when the claim is not ready for filing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var obj claim.Object
			if err := readJSON(args[0], &obj); err != nil {
				return err
			}
			narrative, err := readText(narrativeFile)
			if err != nil {
				return err
			}

			v := omega.NewValidator(omega.Config{
				MinChecksPass:      a.cfg.Omega.MinChecksPass,
				MinNarrativeLength: a.cfg.Omega.MinNarrativeLength,
				FilingPrefix:       a.cfg.Omega.FilingPrefix,
			}, time.Now)
			res := v.Validate(&obj, narrative)
			if err := a.printJSON(res); err != nil {
				return err
			}
			if !res.OverallPassed {
				return fmt.Errorf("claim %s is not regulatory ready: %d of %d checks passed",
					obj.ClaimID, res.PassedChecks, res.TotalChecks)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&narrativeFile, "narrative", "", "file holding the SAR narrative")
	return cmd
}

func (a *app) processCmd() *cobra.Command {
	var (
		narrativeFile string
		userID        string
		timeout       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "process <case.json>",
		Short: "Run a case through the full pipeline",
		Long: `Process runs a case end to end: rules, scoring, claim generation,
readiness validation and filing. The audit trail lives in memory and its
event ids are included in the output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw evidence.RawCase
			if err := readJSON(args[0], &raw); err != nil {
				return err
			}
			narrative, err := readText(narrativeFile)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			res, err := a.services().Pipeline.ProcessCase(ctx, pipeline.CaseRequest{
				Case:      raw,
				UserID:    userID,
				Narrative: narrative,
			})
			if err != nil {
				return err
			}
			return a.printJSON(res)
		},
	}
	cmd.Flags().StringVar(&narrativeFile, "narrative", "", "file holding the SAR narrative")
	cmd.Flags().StringVar(&userID, "user", claimgen.SystemUser, "user recorded on the claim and audit events")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall processing timeout")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <claim.json>",
		Short: "Recompute a claim's integrity hashes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var obj claim.Object
			if err := readJSON(args[0], &obj); err != nil {
				return err
			}
			res := verification{ClaimID: obj.ClaimID, Valid: true}
			verr := claim.Verify(&obj)
			if verr != nil {
				res.Valid = false
				res.Error = verr.Error()
			}
			if err := a.printJSON(res); err != nil {
				return err
			}
			return verr
		},
	}
}
