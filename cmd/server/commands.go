package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/liamcoop/automate/cronspec"
	"github.com/liamcoop/automate/rules"
)

// ruleFile is the bulk import format.
type ruleFile struct {
	Rules []*rules.Rule `yaml:"rules"`
}

func readRuleFile(r io.Reader) ([]*rules.Rule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f ruleFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode rules file: %w", err)
	}
	return f.Rules, nil
}

func newImportCmd(v *viper.Viper, cfgFile *string) *cobra.Command {
	var (
		file   string
		dryRun bool
		upsert bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load rules from a YAML file into the configured rule store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			list, err := readRuleFile(f)
			if err != nil {
				return err
			}
			if dryRun {
				return checkRules(cmd.OutOrStdout(), list)
			}

			cfg, err := loadConfig(cmd, v, *cfgFile)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return importRules(cmd, a.engine, list, upsert)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with a top-level rules list")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate only")
	cmd.Flags().BoolVar(&upsert, "upsert", false, "replace rules whose name already exists")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// checkRules validates every rule and reports all problems.
func checkRules(out io.Writer, list []*rules.Rule) error {
	bad := 0
	for i, r := range list {
		problems := rules.ValidateRule(r)
		if len(problems) == 0 {
			continue
		}
		bad++
		fmt.Fprintf(out, "rule %d (%s):\n", i, r.Name)
		for _, p := range problems {
			fmt.Fprintf(out, "  - %s\n", p)
		}
	}
	fmt.Fprintf(out, "%d rules, %d invalid\n", len(list), bad)
	if bad > 0 {
		return fmt.Errorf("%d invalid rules", bad)
	}
	return nil
}

func importRules(cmd *cobra.Command, engine *rules.Engine, list []*rules.Rule, upsert bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var errs []error
	added, replaced := 0, 0
	for _, r := range list {
		err := engine.AddRule(ctx, r)
		if errors.Is(err, rules.ErrRuleExists) && upsert {
			existing, getErr := engine.Store().GetByName(ctx, r.Name)
			if getErr != nil {
				errs = append(errs, fmt.Errorf("%s: %w", r.Name, getErr))
				continue
			}
			r.ID = existing.ID
			if err = engine.UpdateRule(ctx, r); err == nil {
				replaced++
				continue
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, err))
			continue
		}
		added++
	}

	fmt.Fprintf(out, "imported %d rules, replaced %d, failed %d\n", added, replaced, len(errs))
	return errors.Join(errs...)
}

func newCronCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "cron <expression>",
		Short: "Print the next fire times of a cron expression (UTC)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := cronspec.Test(args[0], time.Now(), count)
			if !p.Valid {
				return errors.New(p.Error)
			}
			for _, t := range p.NextExecutions {
				fmt.Fprintln(cmd.OutOrStdout(), t.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", cronspec.PreviewCount, "number of fire times to print")
	return cmd
}
