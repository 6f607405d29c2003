package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// MockRadioSuite is a testify suite base wired to a FakeRadio.
//
//	type ScanSuite struct {
//	    testutils.MockRadioSuite
//	}
//
//	func (s *ScanSuite) SetupTest() {
//	    s.MockRadioSuite.SetupTest()
//	    s.Radio.WithAdvertisements(
//	        testutils.CreateMockAdvertisement("HeartRate1", "AA:BB:CC:DD:EE:FF", -40).Build(),
//	    )
//	}
type MockRadioSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger
	Radio  *FakeRadio

	// TestTimeout bounds every Eventually-style wait in the suite.
	TestTimeout time.Duration
}

func (s *MockRadioSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.Radio = NewFakeRadio()
	if s.TestTimeout == 0 {
		s.TestTimeout = 2 * time.Second
	}
}

// WaitFor polls cond until it holds or the suite timeout expires.
func (s *MockRadioSuite) WaitFor(cond func() bool, msgAndArgs ...interface{}) {
	s.Require().Eventually(cond, s.TestTimeout, 5*time.Millisecond, msgAndArgs...)
}
