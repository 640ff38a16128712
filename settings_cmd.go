package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/dgnsrekt/studybeats/internal/settings"
	"github.com/dgnsrekt/studybeats/internal/storage"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
)

var (
	settingsJSON bool

	settingsCmd = &cobra.Command{
		Use:   "settings",
		Short: "Show or change playback settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			s := loadSettings(cmd, a.Store)
			if settingsJSON || !isTerminal() {
				return writeJSON(os.Stdout, s)
			}

			keyWidth := 0
			for _, k := range settings.Keys() {
				keyWidth = max(keyWidth, runewidth.StringWidth(k))
			}
			for _, k := range settings.Keys() {
				v, _ := s.Get(k)
				if v == "" {
					v = faint("(none)")
				}
				fmt.Printf("%s  %s\n", heading(runewidth.FillRight(k, keyWidth)), v)
			}
			return nil
		},
	}

	settingsGetCmd = &cobra.Command{
		Use:       "get <key>",
		Short:     "Print one setting",
		Args:      cobra.ExactArgs(1),
		ValidArgs: settings.Keys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			v, err := loadSettings(cmd, a.Store).Get(args[0])
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		},
	}

	settingsSetCmd = &cobra.Command{
		Use:       "set <key> <value>",
		Short:     "Change one setting",
		Args:      cobra.ExactArgs(2),
		ValidArgs: settings.Keys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			s := loadSettings(cmd, a.Store)
			if err := s.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := settings.Save(cmd.Context(), a.Store, s); err != nil {
				return err
			}
			v, _ := s.Get(args[0])
			fmt.Printf("%s set to %s\n", heading(args[0]), keyword(v))
			return nil
		},
	}

	settingsResetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Restore the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			if err := settings.Save(cmd.Context(), a.Store, settings.Default()); err != nil {
				return err
			}
			fmt.Println("Settings restored to defaults.")
			return nil
		},
	}
)

// loadSettings reads saved settings, falling back to defaults with a warning
// when the saved document is unreadable.
func loadSettings(cmd *cobra.Command, store storage.Store) settings.Settings {
	s, err := settings.Load(cmd.Context(), store)
	if err != nil {
		if errors.Is(err, mtypes.ErrCorruptRecord) {
			fmt.Fprintln(os.Stderr, warning("Saved settings are unreadable, showing defaults."))
		}
		log.Debug("failed to load settings", "error", err)
	}
	return s
}

func init() {
	settingsCmd.Flags().BoolVar(&settingsJSON, "json", false, "print settings as JSON")
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd, settingsResetCmd)
}
