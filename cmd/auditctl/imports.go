package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mmdatafocus/payroll_audit/importer"
	"github.com/mmdatafocus/payroll_audit/models"
	"github.com/spf13/cobra"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Upload, map, process and roll back bulk imports",
	}
	cmd.PersistentFlags().Int("actor", 0, "User id recorded as uploader or rollback actor")

	cmd.AddCommand(importPreviewCmd())
	cmd.AddCommand(importCreateCmd())
	cmd.AddCommand(importMapCmd())
	cmd.AddCommand(importProcessCmd())
	cmd.AddCommand(importRollbackCmd())
	cmd.AddCommand(importErrorsCmd())
	return cmd
}

func importId(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid import id %q", arg)
	}
	return id, nil
}

func actor(cmd *cobra.Command) (int, error) {
	id, _ := cmd.Flags().GetInt("actor")
	if id <= 0 {
		return 0, errors.New("--actor is required")
	}
	return id, nil
}

func importPreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview [file]",
		Short: "Show the headers, first rows and suggested mapping of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := models.ParseImportType(mustString(cmd, "type"))
			if err != nil {
				return err
			}
			expected, err := importer.ExpectedColumns(t)
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			preview, err := importer.PreviewFile(filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{
				"preview": preview,
				"mapping": importer.AutoMapColumns(preview.Headers, expected),
			})
		},
	}
	cmd.Flags().StringP("type", "t", "", "Import type (staff, bank_details, monthly_payments)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func importCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create [file]",
		Short: "Store a file and open a pending import with an auto-mapped column mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := models.ParseImportType(mustString(cmd, "type"))
			if err != nil {
				return err
			}
			uploadedBy, err := actor(cmd)
			if err != nil {
				return err
			}
			svc, err := services(cmd.Context())
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			upload, err := svc.Importer().CreateImport(cmd.Context(), importer.UploadInput{
				ImportType: t,
				FileName:   filepath.Base(args[0]),
				Content:    f,
				UploadedBy: uploadedBy,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, upload)
		},
	}
	cmd.Flags().StringP("type", "t", "", "Import type (staff, bank_details, monthly_payments)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func importMapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map [import-id]",
		Short: "Replace the column mapping of a pending import",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := importId(args[0])
			if err != nil {
				return err
			}
			pairs, _ := cmd.Flags().GetStringToString("column")
			mapping := make(map[string]string, len(pairs))
			for header, field := range pairs {
				mapping[strings.TrimSpace(header)] = strings.TrimSpace(field)
			}
			svc, err := services(cmd.Context())
			if err != nil {
				return err
			}
			h, err := svc.Importer().ConfirmMapping(cmd.Context(), id, mapping)
			if err != nil {
				return err
			}
			return printJSON(cmd, h)
		},
	}
	cmd.Flags().StringToString("column", nil, "Header=field pairs, e.g. --column \"Staff No=staff_number\"")
	_ = cmd.MarkFlagRequired("column")
	return cmd
}

func importProcessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process [import-id]",
		Short: "Process a pending import and validate the imported data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := importId(args[0])
			if err != nil {
				return err
			}
			requestedBy, err := actor(cmd)
			if err != nil {
				return err
			}
			svc, err := services(cmd.Context())
			if err != nil {
				return err
			}
			result, err := svc.ImportJob(requestedBy).Run(cmd.Context(), id)
			if result != nil {
				if perr := printJSON(cmd, result); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func importRollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback [import-id]",
		Short: "Soft-delete every record a completed import created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := importId(args[0])
			if err != nil {
				return err
			}
			by, err := actor(cmd)
			if err != nil {
				return err
			}
			svc, err := services(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := svc.Importer().Rollback(cmd.Context(), id, by)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back import %d: %d records removed\n", id, removed)
			return nil
		},
	}
}

func importErrorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors [import-id]",
		Short: "Export the row errors of an import as CSV or XLSX",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := importId(args[0])
			if err != nil {
				return err
			}
			format := mustString(cmd, "format")
			if format != "csv" && format != "xlsx" {
				return fmt.Errorf("unknown format %q (csv, xlsx)", format)
			}
			svc, err := services(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := models.GetImportHistory(cmd.Context(), svc.DB, id); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if path := mustString(cmd, "out"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			if format == "xlsx" {
				return importer.ExportErrorsXLSX(cmd.Context(), svc.DB, id, out)
			}
			return importer.ExportErrorsCSV(cmd.Context(), svc.DB, id, out)
		},
	}
	cmd.Flags().StringP("format", "f", "csv", "Output format (csv, xlsx)")
	cmd.Flags().StringP("out", "o", "", "Write to this file instead of stdout")
	return cmd
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
