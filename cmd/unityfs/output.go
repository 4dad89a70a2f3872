package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/eichs/unityfs/internal/env"
	"github.com/eichs/unityfs/internal/metrics"
	"github.com/eichs/unityfs/internal/serialized"
	"github.com/eichs/unityfs/internal/tpk"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

var headerStyle = lipgloss.NewStyle().Bold(true)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle()
		})
}

func assetTable(assets []*env.Asset) string {
	t := newTable("PATH", "KIND", "SIZE", "DETAIL")
	for _, a := range assets {
		detail := ""
		switch a.Kind {
		case env.KindBundle:
			h := a.Bundle.Header
			detail = fmt.Sprintf("%s v%d %s, %d blocks", h.Signature, h.Version, h.EngineVersion, len(a.Bundle.Blocks))
		case env.KindSerialized:
			detail = fmt.Sprintf("format %d, %d objects", a.File.Header.Version, len(a.File.Objects))
		}
		t.Row(a.Path, a.Kind.String(), humanize.Bytes(uint64(len(a.Data))), detail)
		if a.Kind != env.KindBundle {
			continue
		}
		for _, e := range a.Bundle.Entries {
			t.Row("  "+e.Path, e.Kind().String(), humanize.Bytes(uint64(e.Size)), "flags 0x"+strconv.FormatUint(uint64(e.Flags), 16))
		}
	}
	return t.String()
}

func objectTable(f *serialized.File) string {
	t := newTable("PATH ID", "CLASS", "TYPE", "SIZE", "NAME")
	for _, o := range f.ObjectReaders() {
		name, err := o.PeekName()
		if err != nil {
			name = "<" + err.Error() + ">"
		}
		t.Row(strconv.FormatInt(o.PathID(), 10), strconv.Itoa(int(o.ClassID())), className(o),
			humanize.Bytes(uint64(o.Info().ByteSize)), name)
	}
	return t.String()
}

func classTable(db *tpk.Database) string {
	t := newTable("ID", "NAME", "BASE", "VERSIONS")
	for _, id := range db.ClassIDs() {
		entries := db.Entries(id)
		name, base := "", ""
		for i := len(entries) - 1; i >= 0; i-- {
			if c := entries[i].Class; c != nil {
				name, base = db.ClassName(c), db.BaseName(c)
				break
			}
		}
		t.Row(strconv.Itoa(int(id)), name, base, strconv.Itoa(len(entries)))
	}
	return t.String()
}

// dumpRecord is one decoded object in dump output.
type dumpRecord struct {
	File   string         `json:"file" msgpack:"file"`
	PathID int64          `json:"path_id" msgpack:"path_id"`
	Class  string         `json:"class" msgpack:"class"`
	Fields map[string]any `json:"fields,omitempty" msgpack:"fields,omitempty"`
	Error  string         `json:"error,omitempty" msgpack:"error,omitempty"`
}

type dumpEncoder struct {
	encode func(o *serialized.ObjectReader) error
}

func newDumpEncoder(format string, w io.Writer) (*dumpEncoder, error) {
	var enc func(v any) error
	switch format {
	case "json":
		je := json.NewEncoder(w)
		je.SetIndent("", "  ")
		enc = je.Encode
	case "msgpack":
		me := msgpack.NewEncoder(w)
		me.SetSortMapKeys(true)
		enc = me.Encode
	default:
		return nil, errors.Errorf("unknown dump format %q", format)
	}
	return &dumpEncoder{encode: func(o *serialized.ObjectReader) error {
		rec := dumpRecord{File: o.File().Name, PathID: o.PathID(), Class: className(o)}
		fields, err := o.ReadMap()
		if err != nil {
			rec.Error = err.Error()
		} else {
			rec.Fields = fields
		}
		if err := enc(rec); err != nil {
			return errors.Wrapf(err, "encode object %d to %s format", o.PathID(), format)
		}
		return nil
	}}, nil
}

// extensionFor guesses a file extension from the content.
func extensionFor(data []byte) string {
	if ext := mimetype.Detect(data).Extension(); ext != "" {
		return ext
	}
	return ".bytes"
}

func sanitizeFileName(name string) string {
	if name == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, name)
}

func writeMetrics(w io.Writer, reg *metrics.Registry) error {
	families, err := reg.GetPrometheusRegistry().Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			sort.Strings(labels)
			fmt.Fprintf(w, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue())
		}
	}
	return nil
}
