package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tinyoslab/tinyfs/internal/block"
	"github.com/tinyoslab/tinyfs/internal/domain"
	"github.com/tinyoslab/tinyfs/internal/filesys"
	"github.com/tinyoslab/tinyfs/internal/freemap"
)

func main() {
	app := &cli.App{
		Name:  "mkfs",
		Usage: "format a tinyfs disk image",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "disk",
				Usage:    "path of the disk image to create",
				Required: true,
			},
			&cli.UintFlag{
				Name:  "sectors",
				Usage: "device size in 512-byte sectors",
				Value: 4096,
			},
			&cli.StringFlag{
				Name:  "populate",
				Usage: "txtar archive to load into the fresh filesystem",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mkfs:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	sectors := c.Uint("sectors")
	if sectors < 16 {
		return fmt.Errorf("device too small: %d sectors", sectors)
	}
	if sectors > freemap.MaxSectors {
		return fmt.Errorf("device too large: %d sectors (max %d)", sectors, freemap.MaxSectors)
	}

	dev, err := block.CreateFile(c.String("disk"), domain.SectorNum(sectors))
	if err != nil {
		return err
	}
	defer dev.Close()

	fs, err := filesys.Mount(dev, true)
	if err != nil {
		return err
	}

	if archive := c.String("populate"); archive != "" {
		data, err := os.ReadFile(archive)
		if err != nil {
			fs.Close()
			return err
		}
		if err := fs.Populate(data); err != nil {
			fs.Close()
			return err
		}
	}

	if err := fs.Close(); err != nil {
		return err
	}
	fmt.Printf("formatted %s: %d sectors, %d free\n", c.String("disk"), sectors, fs.FreeSectors())
	return nil
}
