package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/eichs/unityfs/internal/bundle"
	"github.com/eichs/unityfs/internal/env"
	"github.com/eichs/unityfs/internal/object"
	"github.com/eichs/unityfs/internal/serialized"
	"github.com/eichs/unityfs/internal/tpk"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func lsCommand() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List the entries and objects of asset files",
		ArgsUsage: "PATH...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "objects", Aliases: []string{"o"}, Usage: "List the objects of every serialized file"},
		},
		Action: func(c *cli.Context) error {
			st, err := setup(c)
			if err != nil {
				return err
			}
			defer st.finish()
			if _, err := st.env.LoadPaths(c.Context, c.Args().Slice()); err != nil {
				return err
			}
			out := c.App.Writer
			fmt.Fprintln(out, assetTable(st.env.Assets()))
			if c.Bool("objects") {
				for _, f := range st.env.Files() {
					fmt.Fprintf(out, "\n%s (format %d, %s)\n", f.Name, f.Header.Version, f.UnityVersion)
					fmt.Fprintln(out, objectTable(f))
				}
			}
			return nil
		},
	}
}

func extractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "Write bundle entries, text assets and texture payloads to a directory",
		ArgsUsage: "PATH...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"O"}, Value: ".", Usage: "Output directory"},
			&cli.BoolFlag{Name: "entries", Usage: "Also write every bundle entry as is"},
		},
		Action: func(c *cli.Context) error {
			st, err := setup(c)
			if err != nil {
				return err
			}
			defer st.finish()
			if _, err := st.env.LoadPaths(c.Context, c.Args().Slice()); err != nil {
				return err
			}
			x := &extractor{dir: c.String("out")}
			if c.Bool("entries") {
				for _, a := range st.env.Assets() {
					if a.Kind == env.KindBundle {
						if err := x.entries(a.Bundle); err != nil {
							return err
						}
					}
				}
			}
			for _, o := range st.env.Objects() {
				if err := x.object(o); err != nil {
					logrus.WithError(err).WithField("path_id", o.PathID()).Warn("skip object")
				}
			}
			fmt.Fprintf(c.App.Writer, "%d files, %s written to %s\n", x.files, humanize.Bytes(x.bytes), x.dir)
			return nil
		},
	}
}

func dumpCommand() *cli.Command {
	return &cli.Command{
		Name:      "dump",
		Usage:     "Decode objects and print them as JSON or MessagePack",
		ArgsUsage: "PATH...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "Output format (json, msgpack)"},
			&cli.Int64SliceFlag{Name: "path-id", Usage: "Only dump the objects with these path ids"},
			&cli.StringFlag{Name: "file", Usage: "Only dump objects of this serialized file"},
		},
		Action: func(c *cli.Context) error {
			st, err := setup(c)
			if err != nil {
				return err
			}
			defer st.finish()
			enc, err := newDumpEncoder(c.String("format"), c.App.Writer)
			if err != nil {
				return err
			}
			if _, err := st.env.LoadPaths(c.Context, c.Args().Slice()); err != nil {
				return err
			}
			want := map[int64]bool{}
			for _, id := range c.Int64Slice("path-id") {
				want[id] = true
			}
			for _, o := range st.env.Objects() {
				if len(want) > 0 && !want[o.PathID()] {
					continue
				}
				if name := c.String("file"); name != "" && o.File().Name != name {
					continue
				}
				if err := enc.encode(o); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func repackCommand() *cli.Command {
	return &cli.Command{
		Name:      "repack",
		Usage:     "Re-save a bundle or serialized file with a compression profile",
		ArgsUsage: "INPUT",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"O"}, Required: true, Usage: "Output file"},
			&cli.StringFlag{Name: "packer", Usage: "Compression profile (none, original, lz4, lzma), overrides save.packer"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("repack takes exactly one input file")
			}
			st, err := setup(c)
			if err != nil {
				return err
			}
			defer st.finish()
			profile := st.cfg.Profile()
			if p := c.String("packer"); p != "" {
				profile = bundle.Profile{Packer: bundle.Packer(p)}
			}

			a, err := st.env.LoadFile(c.Args().First())
			if err != nil {
				return err
			}
			before := len(a.Data)
			out, err := a.Save(profile)
			if err != nil {
				return err
			}
			if err := os.WriteFile(c.String("out"), out, 0o644); err != nil {
				return errors.Wrapf(err, "write %s", c.String("out"))
			}
			fmt.Fprintf(c.App.Writer, "%s: %s -> %s (%s)\n", a.Path,
				humanize.Bytes(uint64(before)), humanize.Bytes(uint64(len(out))), profile.Packer)
			return nil
		},
	}
}

func tpkCommand() *cli.Command {
	return &cli.Command{
		Name:      "tpk",
		Usage:     "Inspect a type tree database",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "class", Value: -1, Usage: "Print the type tree of this class id"},
			&cli.StringFlag{Name: "unity", Value: "2019.4.0f1", Usage: "Engine version used with --class"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("tpk takes exactly one database file")
			}
			st, err := setup(c)
			if err != nil {
				return err
			}
			defer st.finish()
			db, err := tpk.Load(c.Args().First(), tpk.NewCache())
			if err != nil {
				return err
			}
			db.SetMetrics(st.metrics)
			out := c.App.Writer

			if id := c.Int("class"); id >= 0 {
				v, err := tpk.ParseVersion(c.String("unity"))
				if err != nil {
					return err
				}
				tree, err := db.Lookup(int32(id), v)
				if err != nil {
					return err
				}
				fmt.Fprint(out, tree.String())
				return nil
			}

			versions := db.Versions()
			fmt.Fprintf(out, "created %s, %d engine versions", humanize.Time(db.CreationTime()), len(versions))
			if len(versions) > 0 {
				fmt.Fprintf(out, " (%s .. %s)", versions[0], versions[len(versions)-1])
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, classTable(db))
			return nil
		},
	}
}

// className returns the root type name of an object, or its class id.
func className(o *serialized.ObjectReader) string {
	if tree, err := o.Tree(); err == nil && tree != nil {
		return tree.Type
	}
	return strconv.Itoa(int(o.ClassID()))
}

type extractor struct {
	dir   string
	files int
	bytes uint64
}

func (x *extractor) write(rel string, data []byte) error {
	p := filepath.Join(x.dir, filepath.Clean("/"+rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", rel)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", p)
	}
	x.files++
	x.bytes += uint64(len(data))
	return nil
}

func (x *extractor) entries(b *bundle.File) error {
	for _, e := range b.Entries {
		if err := x.write(filepath.Join(b.Name, e.Path), e.Data); err != nil {
			return err
		}
	}
	return nil
}

func (x *extractor) object(o *serialized.ObjectReader) error {
	switch o.ClassID() {
	case classTextAsset, classTexture2D:
	default:
		return nil
	}
	obj, err := o.Read()
	if err != nil {
		return err
	}
	base := filepath.Join(o.File().Name, strconv.FormatInt(o.PathID(), 10))
	switch v := obj.(type) {
	case *object.TextAsset:
		data := []byte(v.Script)
		return x.write(base+"_"+sanitizeFileName(v.Name)+extensionFor(data), data)
	case *object.Texture2D:
		data, err := o.File().TextureData(v)
		if err != nil {
			return err
		}
		return x.write(fmt.Sprintf("%s_%s_%dx%d_fmt%d.tex", base, sanitizeFileName(v.Name), v.Width, v.Height, v.Format), data)
	}
	return nil
}

const (
	classTexture2D = 28
	classTextAsset = 49
)
