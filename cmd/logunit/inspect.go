package main

import (
	"fmt"
	"io"
	"text/template"

	"github.com/devrev/pairdb/logunit/internal/model"
	"github.com/devrev/pairdb/logunit/internal/storage/segment"
	"github.com/devrev/pairdb/logunit/internal/storage/streamlog"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

const segmentTemplate = `{{ range . -}}
• segment {{ .ID }} ({{ .Path }})
  Format: v{{ .Version }}, checksums {{ if .VerifyChecksums }}verified{{ else }}off{{ end }}, segment size {{ bytes .SegmentSize }}
  Size: {{ bytes .ValidSize }} valid of {{ bytes .FileSize }}
  Records: {{ .Records }}{{ range $type, $n := .ByType }} {{ $type }}={{ $n }}{{ end }}
{{- if .Records }}
  Addresses: {{ .MinAddress }}..{{ .MaxAddress }}
{{- end }}
{{- if .Torn }}
  Torn tail: {{ bytes (torn .) }} after the last complete record
{{- end }}
{{- if .Err }}
  Error: {{ .Err }}
{{- end }}
{{ end }}`

var inspectFuncs = template.FuncMap{
	"bytes": func(v interface{}) string {
		switch n := v.(type) {
		case int64:
			return humanize.IBytes(uint64(n))
		case uint64:
			return humanize.IBytes(n)
		default:
			return fmt.Sprint(v)
		}
	},
	"torn": func(info streamlog.SegmentInfo) int64 {
		return info.FileSize - info.ValidSize
	},
}

func Inspect() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Describe the segment files of a data directory without modifying them",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			records, _ := cmd.Flags().GetBool("records")
			return inspect(cmd.OutOrStdout(), dir, records)
		},
	}
	cmd.Flags().StringP("dir", "d", "", "Data directory")
	cmd.MarkFlagRequired("dir")
	cmd.Flags().Bool("records", false, "Print one line per record")
	return cmd
}

func inspect(out io.Writer, dir string, records bool) error {
	var onRecord streamlog.RecordFunc
	if records {
		onRecord = func(id uint32, r segment.Record) {
			fmt.Fprintf(out, "segment=%d offset=%d address=%d type=%s streams=%d rank=%s size=%s\n",
				id, r.Offset, r.Entry.Address, r.Entry.DataType, len(r.Entry.Streams),
				formatRank(r.Entry.Rank), humanize.IBytes(uint64(r.Length)))
		}
	}

	infos, err := streamlog.Inspect(dir, onRecord)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintf(out, "no segments in %s\n", dir)
		return nil
	}

	tpl := template.Must(template.New("segments").Funcs(inspectFuncs).Parse(segmentTemplate))
	if err := tpl.Execute(out, infos); err != nil {
		return err
	}

	failed := 0
	for _, info := range infos {
		if info.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d segments could not be decoded", failed, len(infos))
	}
	return nil
}

func formatRank(r *model.Rank) string {
	if r == nil {
		return "-"
	}
	return r.String()
}
