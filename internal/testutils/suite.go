package testutils

import (
	"github.com/AdinAck/Headlights-App/internal/endpoint"
	"github.com/AdinAck/Headlights-App/internal/protocol"
	"github.com/AdinAck/Headlights-App/internal/session"
	"github.com/AdinAck/Headlights-App/internal/transport"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// MockTransportSuite is a testify suite with a fresh MockTransport and change
// recorder per test.
//
//	type RouterSuite struct {
//	    testutils.MockTransportSuite
//	}
//
//	func TestRouterSuite(t *testing.T) {
//	    suite.Run(t, new(RouterSuite))
//	}
//
// Suites that override SetupTest must call the embedded SetupTest first.
type MockTransportSuite struct {
	suite.Suite

	Helper    *TestHelper
	Logger    *logrus.Logger
	Transport *MockTransport
	Changes   *ChangeRecorder
	Table     *endpoint.Table
}

func (s *MockTransportSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
}

func (s *MockTransportSuite) SetupTest() {
	s.Transport = NewMockTransport()
	s.Changes = &ChangeRecorder{}
	if s.Table == nil {
		s.Table = endpoint.V2
	}
}

func (s *MockTransportSuite) TearDownTest() {
	s.Table = nil
}

// NewSession creates a session bound to the suite transport and recorder.
func (s *MockTransportSuite) NewSession(id transport.ID) *session.Session {
	return session.New(id, "Headlight "+string(id), -60, s.Table, s.Transport, s.Logger, s.Changes.Observe)
}

// Load drives sess through a successful connection, answering one-shot reads
// with props.
func (s *MockTransportSuite) Load(sess *session.Session, props protocol.Properties) {
	s.Require().NoError(sess.BeginConnect())
	sess.OnConnected()
	sess.OnServicesDiscovered([]transport.UUID{s.Table.Service()}, nil)
	sess.OnCharacteristicsDiscovered(s.Table.Service(), Characteristics(s.Table), nil)
	for _, e := range s.Table.OneShot() {
		sess.OnValue(e.UUID, MustEncode(props), nil)
	}
	s.Require().True(sess.Loaded(), "session %s not loaded, state %s", sess.ID(), sess.State())
}

// SampleProperties is a valid properties packet.
var SampleProperties = protocol.Properties{
	Hardware:    protocol.HardwareV2Rev2,
	Firmware:    protocol.FirmwareV0p2,
	AbsMaxMA:    3000,
	AbsMaxTemp:  2100,
	MinPWMFreq:  100,
	MaxPWMFreq:  1000,
	MaxADCError: 40,
}
