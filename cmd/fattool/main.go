package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/urfave/cli/v2"
	"github.com/weberc2/clusterfs/pkg/filesys"
	"github.com/weberc2/clusterfs/pkg/inode"
	"github.com/weberc2/clusterfs/pkg/objectstore"
	"github.com/weberc2/clusterfs/pkg/pgdevice"
	"github.com/weberc2/clusterfs/pkg/snapshot"
	. "github.com/weberc2/clusterfs/pkg/types"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func sectorFlag() cli.Flag {
	return &cli.UintFlag{
		Name:     "sector",
		Aliases:  []string{"s"},
		Usage:    "the sector holding the file's record",
		Required: true,
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:        appName,
		Description: "format, inspect and edit cluster-chained volumes",
		Commands: []*cli.Command{{
			Name:        "format",
			Aliases:     []string{"mkfs"},
			Description: "write an empty volume with a root directory",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "label", Usage: "the volume label"},
				&cli.UintFlag{
					Name:  "sectors-per-cluster",
					Usage: "the allocation unit, in sectors",
					Value: uint(filesys.DefaultSectorsPerCluster),
				},
			},
			Action: withConfig(func(c *Config, ctx *cli.Context) error {
				b, err := openBackend(c, true)
				if err != nil {
					return err
				}
				defer b.Close()

				superblock, err := filesys.Format(
					b,
					&filesys.Params{
						Label:             ctx.String("label"),
						SectorsPerCluster: uint32(ctx.Uint("sectors-per-cluster")),
					},
					filesys.WithLogger(c.Logger()),
				)
				if err != nil {
					return err
				}
				return printJSON(ctx, &superblock)
			}),
		}, {
			Name:        "volume",
			Aliases:     []string{"df"},
			Description: "print volume statistics",
			Action: withVolume(func(v *filesys.Volume, ctx *cli.Context) error {
				stats := v.Stat()
				return printJSON(ctx, &stats)
			}),
		}, {
			Name:        "create",
			Aliases:     []string{"touch"},
			Description: "create a file or directory and print its sector",
			Flags: []cli.Flag{
				&cli.Int64Flag{Name: "size", Usage: "the initial length in bytes"},
				&cli.BoolFlag{Name: "dir", Usage: "create a directory"},
			},
			Action: withVolume(func(v *filesys.Volume, ctx *cli.Context) error {
				kind := KindRegular
				if ctx.Bool("dir") {
					kind = KindDirectory
				}
				size := Byte(ctx.Int64("size"))
				if size < 0 {
					return fmt.Errorf("creating file: negative size `%d`", size)
				}
				location, err := v.Table().CreateNew(size, kind)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(ctx.App.Writer, location)
				return err
			}),
		}, {
			Name:        "write",
			Description: "write stdin (or --data) into a file at an offset",
			Flags: []cli.Flag{
				sectorFlag(),
				&cli.Int64Flag{Name: "offset", Usage: "the byte offset"},
				&cli.StringFlag{Name: "data", Usage: "write this instead of stdin"},
			},
			Action: withHandle(func(h *inode.Handle, ctx *cli.Context) error {
				var data []byte
				if ctx.IsSet("data") {
					data = []byte(ctx.String("data"))
				} else {
					var err error
					if data, err = io.ReadAll(ctx.App.Reader); err != nil {
						return fmt.Errorf("reading stdin: %w", err)
					}
				}
				offset, err := offsetOf(ctx)
				if err != nil {
					return err
				}
				n, err := h.WriteAt(data, offset)
				if err != nil {
					return fmt.Errorf("wrote `%d` of `%d` bytes: %w", n, len(data), err)
				}
				return nil
			}),
		}, {
			Name:        "cat",
			Aliases:     []string{"read"},
			Description: "print a file's contents",
			Flags: []cli.Flag{
				sectorFlag(),
				&cli.Int64Flag{Name: "offset", Usage: "the byte offset"},
				&cli.Int64Flag{
					Name:  "length",
					Usage: "bytes to read; at most the rest of the file",
					Value: -1,
				},
			},
			Action: withHandle(func(h *inode.Handle, ctx *cli.Context) error {
				offset, err := offsetOf(ctx)
				if err != nil {
					return err
				}
				available := h.Length()
				if h.IsDir() {
					available = SectorSize
				}
				available = max(available-offset, 0)

				length := Byte(ctx.Int64("length"))
				if length < 0 || length > available {
					length = available
				}
				buf := make([]byte, length)
				n, err := h.ReadAt(buf, offset)
				if err != nil {
					return err
				}
				_, err = io.Copy(ctx.App.Writer, bytes.NewReader(buf[:n]))
				return err
			}),
		}, {
			Name:        "stat",
			Description: "print a file's record",
			Flags:       []cli.Flag{sectorFlag()},
			Action: withHandle(func(h *inode.Handle, ctx *cli.Context) error {
				record := h.Record()
				return printJSON(ctx, &struct {
					Sector Sector  `json:"sector"`
					Kind   Kind    `json:"kind"`
					Length Byte    `json:"length"`
					Start  Cluster `json:"start"`
					Tail   Cluster `json:"tail"`
				}{
					Sector: h.Location(),
					Kind:   record.Kind,
					Length: record.Length,
					Start:  record.Start,
					Tail:   record.Tail,
				})
			}),
		}, {
			Name:        "rm",
			Aliases:     []string{"remove", "delete"},
			Description: "remove a file and free its clusters",
			Flags:       []cli.Flag{sectorFlag()},
			Action: withHandle(func(h *inode.Handle, ctx *cli.Context) error {
				// storage is freed when withHandle closes the last reference
				h.Remove()
				return nil
			}),
		}, {
			Name:        "snapshot",
			Description: "copy volume images to and from S3",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "bucket", Usage: "overrides the configured bucket"},
			},
			Subcommands: []*cli.Command{{
				Name:        "push",
				Description: "upload the volume image and print its key",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Usage: "defaults to one derived from the label and volume id"},
				},
				Action: withConfig(func(c *Config, ctx *cli.Context) error {
					b, err := openBackend(c, false)
					if err != nil {
						return err
					}
					defer b.Close()

					key := ctx.String("key")
					if key == "" {
						v, err := filesys.Mount(b, filesys.WithLogger(c.Logger()))
						if err != nil {
							return err
						}
						superblock := v.Superblock()
						key = snapshot.Key(c.Prefix, &superblock)
					}

					store, bucket, err := objectStore(c, ctx)
					if err != nil {
						return err
					}
					if err := snapshot.Push(b, store, bucket, key); err != nil {
						return err
					}
					_, err = fmt.Fprintln(ctx.App.Writer, key)
					return err
				}),
			}, {
				Name:        "pull",
				Description: "overwrite the volume with an image",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Required: true},
				},
				Action: withConfig(func(c *Config, ctx *cli.Context) error {
					b, err := openBackend(c, true)
					if err != nil {
						return err
					}
					defer b.Close()

					store, bucket, err := objectStore(c, ctx)
					if err != nil {
						return err
					}
					return snapshot.Pull(store, bucket, ctx.String("key"), b)
				}),
			}, {
				Name:        "list",
				Aliases:     []string{"ls"},
				Description: "list snapshot keys under the configured prefix",
				Action: withConfig(func(c *Config, ctx *cli.Context) error {
					store, bucket, err := objectStore(c, ctx)
					if err != nil {
						return err
					}
					keys, err := store.ListObjects(bucket, c.Prefix)
					if err != nil {
						return err
					}
					if keys == nil {
						keys = []string{}
					}
					return printJSON(ctx, keys)
				}),
			}},
		}, {
			Name:        "pg",
			Description: "commands for interacting with the backing pg table",
			Subcommands: []*cli.Command{{
				Name:        "ensure",
				Aliases:     []string{"make", "create"},
				Description: "create the sector table if it doesn't already exist",
				Action: withPostgres(func(d *pgdevice.Device, ctx *cli.Context) error {
					return d.EnsureTable()
				}),
			}, {
				Name:        "drop",
				Aliases:     []string{"delete", "destroy"},
				Description: "drop the sector table",
				Action: withPostgres(func(d *pgdevice.Device, ctx *cli.Context) error {
					return d.DropTable()
				}),
			}, {
				Name:        "reset",
				Description: "drop and recreate the sector table",
				Action: withPostgres(func(d *pgdevice.Device, ctx *cli.Context) error {
					return d.ResetTable()
				}),
			}},
		}},
	}
}

func offsetOf(ctx *cli.Context) (Byte, error) {
	offset := Byte(ctx.Int64("offset"))
	if offset < 0 {
		return 0, fmt.Errorf("negative offset `%d`", offset)
	}
	return offset, nil
}

func withConfig(f func(*Config, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		c, err := LoadConfig()
		if err != nil {
			return err
		}
		if err := c.Validate(); err != nil {
			return err
		}
		return f(c, ctx)
	}
}

func withVolume(f func(*filesys.Volume, *cli.Context) error) cli.ActionFunc {
	return withConfig(func(c *Config, ctx *cli.Context) error {
		b, err := openBackend(c, false)
		if err != nil {
			return err
		}
		defer b.Close()

		v, err := filesys.Mount(b, filesys.WithLogger(c.Logger()))
		if err != nil {
			return err
		}
		if err := f(v, ctx); err != nil {
			v.Close()
			return err
		}
		return v.Close()
	})
}

func withHandle(f func(*inode.Handle, *cli.Context) error) cli.ActionFunc {
	return withVolume(func(v *filesys.Volume, ctx *cli.Context) error {
		h, err := v.Table().Open(Sector(ctx.Uint("sector")))
		if err != nil {
			return err
		}
		if err := f(h, ctx); err != nil {
			h.Close()
			return err
		}
		return h.Close()
	})
}

func withPostgres(f func(*pgdevice.Device, *cli.Context) error) cli.ActionFunc {
	return withConfig(func(c *Config, ctx *cli.Context) error {
		db, err := pgdevice.OpenEnv()
		if err != nil {
			return err
		}
		defer db.Close()
		d, err := pgdevice.New(db, c.PGTable, Sector(c.Sectors))
		if err != nil {
			return err
		}
		return f(d, ctx)
	})
}

func objectStore(c *Config, ctx *cli.Context) (objectstore.ObjectStore, string, error) {
	bucket := c.Bucket
	if ctx.IsSet("bucket") {
		bucket = ctx.String("bucket")
	}
	if bucket == "" {
		return nil, "", fmt.Errorf(
			"missing required configuration: bucket / %s_BUCKET",
			envVarPrefix,
		)
	}

	config := aws.Config{Region: aws.String(c.Region)}
	if c.S3Endpoint != "" {
		config.Endpoint = aws.String(c.S3Endpoint)
		config.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(&config)
	if err != nil {
		return nil, "", fmt.Errorf("creating AWS session: %w", err)
	}

	var store objectstore.ObjectStore = objectstore.NewS3ObjectStore(sess)
	if c.Compress {
		store = &objectstore.GzipObjectStore{ObjectStore: store}
	}
	return store, bucket, nil
}

func printJSON(ctx *cli.Context, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	if _, err := fmt.Fprintf(ctx.App.Writer, "%s\n", data); err != nil {
		return fmt.Errorf("writing JSON to stdout: %w", err)
	}
	return nil
}
