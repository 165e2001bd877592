package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-callbridge/internal/log"
	"github.com/teslashibe/go-callbridge/pkg/server"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check language model and voice credentials for each profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		profiles, err := server.BuildProfiles(cfg, log.L())
		if err != nil {
			return err
		}

		names := make([]string, 0, len(profiles))
		for p := range profiles {
			names = append(names, string(p))
		}
		sort.Strings(names)

		ctx, cancel := context.WithTimeout(cmd.Context(), 20*time.Second)
		defer cancel()

		var failed []error
		for _, name := range names {
			p := profiles[server.Profile(name)]
			if err := p.Health(ctx); err != nil {
				fmt.Printf("%-8s FAIL  %v\n", name, err)
				failed = append(failed, fmt.Errorf("%s: %w", name, err))
			} else {
				fmt.Printf("%-8s ok\n", name)
			}
			p.Close()
		}
		return errors.Join(failed...)
	},
}
