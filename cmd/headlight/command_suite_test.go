package main

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/AdinAck/Headlights-App/internal/endpoint"
	"github.com/AdinAck/Headlights-App/internal/prefs"
	"github.com/AdinAck/Headlights-App/internal/router"
	"github.com/AdinAck/Headlights-App/internal/testutils"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/AdinAck/Headlights-App/pkg/config"
	"github.com/AdinAck/Headlights-App/pkg/controller"
	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

const (
	waitFor       = 2 * time.Second
	TestHeadlight = transport.ID("01234567-89ab-cdef-0123-456789abcdef")
)

// mockBLE adds the Close the CLI expects to the mock transport.
type mockBLE struct {
	*testutils.MockTransport
	once sync.Once
}

func (m *mockBLE) Close() error {
	m.once.Do(m.MockTransport.Close)
	return nil
}

// CommandTestSuite runs CLI commands against a mock transport. All
// cmd/headlight suites embed it.
type CommandTestSuite struct {
	testutils.MockTransportSuite

	prefsPath     string
	origTransport func(*config.Config, *logrus.Logger) bleTransport
}

func (s *CommandTestSuite) SetupTest() {
	s.MockTransportSuite.SetupTest()
	s.prefsPath = filepath.Join(s.T().TempDir(), "prefs.yaml")
	color.NoColor = true
	resetFlags()

	s.origTransport = newTransport
	tr := &mockBLE{MockTransport: s.Transport}
	newTransport = func(*config.Config, *logrus.Logger) bleTransport { return tr }
}

func (s *CommandTestSuite) TearDownTest() {
	newTransport = s.origTransport
	s.MockTransportSuite.TearDownTest()
}

// resetFlags restores the flag variables that survive between Execute calls.
func resetFlags() {
	scanDuration, scanFormat, scanWatch = 0, "", false
	monitorInterval, monitorDuration, monitorFormat = 0, 0, ""
	sendID, sendResetFactory = "", false
	favoriteClear = false
	serveAddr = ""
	traceDumpFormat = "table"
}

// ExecuteCommand runs the root command with args and the suite preferences
// file, returning the combined output.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append([]string{"--prefs", s.prefsPath}, args...))
	err := rootCmd.Execute()
	return buf.String(), err
}

// StartController runs a controller on the suite transport with an
// in-memory store.
func (s *CommandTestSuite) StartController() (*controller.Controller, *prefs.MemoryStore) {
	store := prefs.NewMemoryStore()
	ctl, err := controller.New(s.Transport, store, controller.Options{
		Router: router.Options{Capacity: 1, Table: s.Table},
		Logger: s.Logger,
	})
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	ctl.Start(ctx)
	s.T().Cleanup(func() {
		cancel()
		<-ctl.Done()
	})
	return ctl, store
}

// Advertise makes id known to ctl.
func (s *CommandTestSuite) Advertise(ctl *controller.Controller, id transport.ID) {
	s.Transport.Emit(transport.Advertisement{ID: id, Name: "Headlight", RSSI: -42})
	s.Require().Eventually(func() bool {
		_, ok := ctl.Lookup(id)
		return ok
	}, waitFor, 5*time.Millisecond)
}

// Answer plays the peripheral side of a successful load.
func (s *CommandTestSuite) Answer(id transport.ID) {
	s.Transport.Emit(transport.Connected{ID: id})
	s.Transport.Emit(transport.ServicesDiscovered{ID: id, Services: []transport.UUID{s.Table.Service()}})
	s.Transport.Emit(transport.CharacteristicsDiscovered{
		ID:              id,
		Service:         s.Table.Service(),
		Characteristics: testutils.Characteristics(s.Table),
	})
	for _, e := range s.Table.OneShot() {
		s.Transport.Emit(transport.ValueUpdated{ID: id, Characteristic: e.UUID, Value: testutils.MustEncode(testutils.SampleProperties)})
	}
}

// Loaded connects and loads id on ctl.
func (s *CommandTestSuite) Loaded(ctl *controller.Controller, id transport.ID) {
	s.Advertise(ctl, id)
	s.Require().NoError(ctl.Connect(context.Background(), id))
	s.Answer(id)
	s.Require().Eventually(func() bool {
		snap, ok := ctl.Lookup(id)
		return ok && snap.Loaded
	}, waitFor, 5*time.Millisecond)
}

// Notify emits a value for ep as the peripheral would.
func (s *CommandTestSuite) Notify(id transport.ID, ep endpoint.Endpoint, value []byte) {
	s.Transport.Emit(transport.ValueUpdated{ID: id, Characteristic: testutils.CharOf(s.Table, ep), Value: value})
}
