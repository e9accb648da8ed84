package main

import (
	"context"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/echosight/echosight"
	"github.com/echosight/echosight/pkg/errors"
	"github.com/echosight/echosight/pkg/frames"
	"github.com/echosight/echosight/pkg/logging"
)

func newRunCmd() *cobra.Command {
	var (
		realtime   bool
		captureCmd string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the analysis pipeline until interrupted",
		Long: `Run starts the pipeline: it probes the inference server, feeds camera
frames through the analysis orchestrator, and narrates results. Frames come
from the capture command, which must print a single JPEG image to stdout per
invocation (for example: fswebcam --no-banner --save -).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			opts := []echosight.Option{
				echosight.WithConfigFile(configFile),
			}
			if captureCmd != "" {
				opts = append(opts, echosight.WithGrabber(execGrabber(captureCmd)))
			}

			app, err := echosight.New(opts...)
			if err != nil {
				return err
			}

			if err := app.Start(ctx); err != nil {
				return err
			}
			logging.Info().Bool("realtime", realtime).Msg("EchoSight running, press Ctrl+C to stop")

			if realtime {
				// Give the initial health probe a moment before the loop
				// checks connectivity.
				go func() {
					select {
					case <-time.After(2 * time.Second):
						app.SetRealtime(true)
					case <-ctx.Done():
					}
				}()
			}

			<-ctx.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return app.Stop(stopCtx)
		},
	}

	cmd.Flags().BoolVar(&realtime, "realtime", false, "enable live analysis on startup")
	cmd.Flags().StringVar(&captureCmd, "capture-cmd", "", "shell command printing one JPEG frame to stdout")
	return cmd
}

// execGrabber adapts a capture command into a frames.Grabber. Each invocation
// runs the command and wraps its stdout as a frame.
func execGrabber(command string) frames.Grabber {
	return func() (*frames.Frame, error) {
		cmd := exec.Command("sh", "-c", command)
		out, err := cmd.Output()
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCaptureUnavailable, "capture command failed")
		}
		if len(out) == 0 {
			return nil, errors.Wrapf(errors.ErrCaptureUnavailable, "capture command produced no data")
		}
		return &frames.Frame{
			PixelData: out,
			Timestamp: time.Now(),
		}, nil
	}
}
