package main

import (
	"github.com/spf13/cobra"

	"github.com/tusharrohilla/ppdbg/internal/fakeppsspp"
)

func newFakeCmd(g *globalFlags) *cobra.Command {
	var (
		listen  string
		version string
	)
	cmd := &cobra.Command{
		Use:   "fake",
		Short: "Run a fake debugging target that echoes requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := g.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			srv := fakeppsspp.New(
				fakeppsspp.WithLogger(logger),
				fakeppsspp.WithVersion(fakeppsspp.DefaultName, version),
			)
			return srv.Run(cmd.Context(), listen)
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "localhost:45000", "address to serve on")
	cmd.Flags().StringVar(&version, "version", fakeppsspp.DefaultVersion, "version reported in the handshake")
	return cmd
}
