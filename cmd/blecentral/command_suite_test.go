package main

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/testutils"
)

// Test device addresses for consistent fake peripheral identification
const (
	TestDeviceAddress1 = "AA:BB:CC:DD:EE:FF"
	TestDeviceAddress2 = "11:22:33:44:55:66"
	TestDeviceAddress3 = "01:02:03:04:05:06"
)

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a running command.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CommandTestSuite extends MockRadioSuite with command testing utilities.
// Every command built during a test talks to the suite's FakeRadio.
type CommandTestSuite struct {
	testutils.MockRadioSuite

	originalRadio func(*logrus.Logger) device.Radio
}

func (s *CommandTestSuite) SetupTest() {
	s.MockRadioSuite.SetupTest()

	s.Radio.
		WithAdvertisements(
			testutils.CreateMockAdvertisement("HeartRate", TestDeviceAddress1, -40).WithServices("180D").Build(),
			testutils.CreateMockAdvertisement("Battery", TestDeviceAddress2, -60).WithServices("180F").Build(),
		).
		WithPeripheral(testutils.CreateMockPeripheralFromJSON(TestDeviceAddress1, `{
			"services": [
				{"uuid": "180D", "characteristics": [
					{"uuid": "2A37", "properties": "notify", "value": [0]},
					{"uuid": "2A38", "properties": "read", "value": [1]}
				]}
			]
		}`))

	s.originalRadio = newRadio
	radio := s.Radio
	newRadio = func(*logrus.Logger) device.Radio { return radio }
}

func (s *CommandTestSuite) TearDownTest() {
	newRadio = s.originalRadio
}

// ExecuteCommand runs the root command with args and returns stdout and stderr separately.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	return s.ExecuteCommandContext(context.Background(), args...)
}

// ExecuteCommandContext is ExecuteCommand bound to ctx, for commands that run until cancelled.
func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, args ...string) (string, string, error) {
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	err := s.execute(ctx, stdout, stderr, args...)
	return stdout.String(), stderr.String(), err
}

func (s *CommandTestSuite) execute(ctx context.Context, stdout, stderr *syncBuffer, args ...string) error {
	cmd := newRootCmd()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// StartCommand runs the root command in the background. The returned channel yields its error.
func (s *CommandTestSuite) StartCommand(ctx context.Context, args ...string) (stdout, stderr *syncBuffer, done <-chan error) {
	stdout, stderr = &syncBuffer{}, &syncBuffer{}
	errc := make(chan error, 1)
	go func() {
		errc <- s.execute(ctx, stdout, stderr, args...)
	}()
	return stdout, stderr, errc
}

// WaitForOutput waits until buf contains substr.
func (s *CommandTestSuite) WaitForOutput(buf *syncBuffer, substr string) {
	s.WaitFor(func() bool { return strings.Contains(buf.String(), substr) },
		"output MUST eventually contain %q", substr)
}

// commandFor finds a subcommand of a freshly built root.
func commandFor(name string) *cobra.Command {
	for _, c := range newRootCmd().Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}
