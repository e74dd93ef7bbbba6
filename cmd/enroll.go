package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/example/facegate/internal/faceid"
	"github.com/example/facegate/internal/imagesource"
	"github.com/example/facegate/internal/imagesource/camera"
	"github.com/example/facegate/internal/usecase"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll a person from camera captures or a directory of images",
	Long: `Enroll captures several samples of one person and stores an embedding for
each sample that contains a face. In camera mode press 'c' to capture the current
frame and 'q' to stop early. With --dir every image in the directory is used.
Missing --name or --samples values are prompted for on stdin.`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	enrollCmd.Flags().String("name", "", "Identity to enroll")
	enrollCmd.Flags().Int("samples", 0, "Number of capture attempts (recommended: 5-10)")
	enrollCmd.Flags().String("dir", "", "Read samples from image files in this directory instead of the camera")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	samples, _ := cmd.Flags().GetInt("samples")
	dir, _ := cmd.Flags().GetString("dir")

	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	var err error
	if strings.TrimSpace(name) == "" {
		if name, err = promptString(in, out, "Enter username: "); err != nil {
			return err
		}
	}

	var src imagesource.Source
	var observe usecase.EnrollmentObserver
	if dir != "" {
		dirSrc := imagesource.NewDirSource(dir)
		if err := dirSrc.Open(cmd.Context()); err != nil {
			return err
		}
		if samples <= 0 {
			samples = dirSrc.Len()
		}
		src = dirSrc
		observe = progressObserver(samples)
	} else {
		if samples <= 0 {
			if samples, err = promptInt(in, out, "How many photos to capture? (recommended: 5-10) "); err != nil {
				return err
			}
		}
		window := camera.NewWindow(cfg.Camera.Window)
		defer window.Close()
		src = camera.NewCaptureSource(camera.New(cfg.Camera.Device, logger), window, "Press 'c' to capture, 'q' to quit")
		observe = consoleObserver(out)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	stored, err := a.enrollment.Enroll(ctx, name, samples, src, observe)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nRegistration complete for %s: %d of %d samples stored\n", strings.TrimSpace(name), stored, samples)
	return nil
}

func consoleObserver(out io.Writer) usecase.EnrollmentObserver {
	return func(e usecase.EnrollmentEvent) {
		switch {
		case e.Stored:
			fmt.Fprintf(out, "Capture %d/%d: saved embedding\n", e.Slot, e.Attempts)
		case errors.Is(e.Err, faceid.ErrNoFace):
			fmt.Fprintf(out, "Capture %d/%d: no face detected, try again\n", e.Slot, e.Attempts)
		case e.Err != nil:
			fmt.Fprintf(out, "Capture %d/%d: %v\n", e.Slot, e.Attempts, e.Err)
		}
	}
}

func progressObserver(total int) usecase.EnrollmentObserver {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)
	return func(usecase.EnrollmentEvent) {
		_ = bar.Add(1)
	}
}

func promptString(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return "", faceid.ErrInvalidIdentity
	}
	return value, nil
}

func promptInt(in *bufio.Reader, out io.Writer, label string) (int, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return 0, fmt.Errorf("failed to read input: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q", usecase.ErrInvalidSampleCount, strings.TrimSpace(line))
	}
	return n, nil
}
