package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/floegence/lantun/internal/cmdutil"
	"github.com/floegence/lantun/keystore"
	"github.com/floegence/lantun/tunerrors"
)

func newKeygenCommand(a *app) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new random shared key",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(_ *cobra.Command, _ []string) error {
			path := a.cfg.KeyFile
			if err := cmdutil.RefuseOverwrite(path, overwrite); err != nil {
				return err
			}
			k, err := a.store().Generate()
			if err != nil {
				return keyError(tunerrors.StageSave, err)
			}
			fmt.Fprintf(a.stdout, "key: %s\nfingerprint: %s\npath: %s\n", k.Hex(), k.Fingerprint(), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing key file")
	return cmd
}

func newKeyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Inspect or replace the shared key",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newKeyImportCommand(a), newKeyShowCommand(a))
	return cmd
}

func newKeyImportCommand(a *app) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "import <hex-or-file>",
		Short: "Store a key given as 64 hex characters or read from a file",
		Long: "Store a key given as 64 hex characters, or read from a file holding either\n" +
			"32 raw bytes or 64 hex characters.",
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(_ *cobra.Command, args []string) error {
			path := a.cfg.KeyFile
			if err := cmdutil.RefuseOverwrite(path, overwrite); err != nil {
				return err
			}
			material, fromFile, err := cmdutil.ReadArgOrFile(args[0])
			if err != nil {
				return keyError(tunerrors.StageLoad, err)
			}
			k, err := keystore.ParseStrict(material)
			if err != nil {
				return keyError(tunerrors.StageLoad, err)
			}
			if err := a.store().Save(k[:]); err != nil {
				return keyError(tunerrors.StageSave, err)
			}
			source := "argument"
			if fromFile {
				source = args[0]
			}
			fmt.Fprintf(a.stdout, "imported key %s from %s\npath: %s\n", k.Fingerprint(), source, path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing key file")
	return cmd
}

type keyReport struct {
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint"`
	Result      string `json:"result"`
	Key         string `json:"key,omitempty"`
}

func newKeyShowCommand(a *app) *cobra.Command {
	var asJSON, reveal bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Load the key file and print its fingerprint",
		Long: "Load the key file the same way the tunnel does and report how it was read.\n" +
			"A missing or empty key file is replaced by a freshly generated key.",
		Args: usageArgs(cobra.NoArgs),
		RunE: func(_ *cobra.Command, _ []string) error {
			k, res, err := a.store().Load()
			if err != nil {
				return keyError(tunerrors.StageLoad, err)
			}
			r := keyReport{
				Path:        a.cfg.KeyFile,
				Fingerprint: k.Fingerprint(),
				Result:      res.String(),
			}
			if reveal {
				r.Key = k.Hex()
			}
			if asJSON {
				return cmdutil.WriteJSON(a.stdout, r)
			}
			fmt.Fprintf(a.stdout, "path: %s\nfingerprint: %s\nresult: %s\n", r.Path, r.Fingerprint, r.Result)
			if r.Key != "" {
				fmt.Fprintf(a.stdout, "key: %s\n", r.Key)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&reveal, "reveal", false, "include the hex key in the output")
	return cmd
}
