package activity_test

import (
	"time"

	"github.com/srg/splitlink/internal/transport/sim"
	"github.com/srg/splitlink/internal/workqueue"
	"github.com/srg/splitlink/pkg/activity"
	"github.com/srg/splitlink/pkg/connparams"
	"github.com/srg/splitlink/pkg/event"
	"github.com/srg/splitlink/pkg/link"
)

var keyPress = event.PositionStateChanged{Position: 12, Pressed: true}

func (s *ManagerTestSuite) TestInitialState() {
	// GOAL: Verify the manager starts awake and touches no connection until something happens
	//
	// TEST SCENARIO: Fresh manager → mode is active → no update requests issued

	s.Assert().Equal(connparams.ModeActive, s.manager.Mode(), "manager MUST start in active mode")
	s.Assert().Empty(s.transport.Calls(), "starting MUST NOT push parameters")
	s.Assert().Equal(activity.Stats{}, s.manager.Stats())
}

func (s *ManagerTestSuite) TestInactivityTimeout() {
	// GOAL: Verify the idle profile is pushed once to every central connection after 10s without activity
	//
	// TEST SCENARIO: A, B central and C peripheral → no events for 10s → exactly two idle updates (A, B) → C untouched

	s.clock.Add(9 * time.Second)
	s.Assert().Never(func() bool {
		return s.manager.Mode() == connparams.ModeIdle
	}, quiet, tick, "link MUST NOT go idle before the timeout")

	s.clock.Add(time.Second)
	s.Require().Eventually(func() bool {
		return s.manager.Mode() == connparams.ModeIdle && s.reportCount() == 1
	}, waitFor, tick)

	s.Assert().Equal([]string{"A", "B"}, s.callIDs(), "only central connections MUST be updated, once each")
	for _, c := range s.transport.Calls() {
		s.Assert().Equal(connparams.ParametersFor(connparams.ModeIdle), c.Params, "idle profile MUST be pushed")
	}
	s.Assert().Empty(s.transport.CallsFor("C"), "peripheral connection MUST receive zero calls")

	applied, ok := s.transport.Applied("B")
	s.Assert().True(ok)
	s.Assert().Equal(connparams.Idle, applied)

	report, ok := s.lastReport()
	s.Require().True(ok, "observer MUST receive a report for the idle transition")
	s.Assert().Equal(connparams.ModeIdle, report.Mode)
	s.Assert().Equal([]string{"A", "B"}, report.Applied())
	s.Assert().Empty(report.Failed())

	s.Assert().Equal(uint64(1), s.manager.Stats().Transitions)
}

func (s *ManagerTestSuite) TestActivityWhileActive() {
	// GOAL: Verify activity on an awake link only restarts the countdown
	//
	// TEST SCENARIO: Two events while active → no update requests → both captured

	s.Assert().Equal(event.Captured, s.manager.HandleActivity(keyPress), "activity events MUST be captured")
	s.Assert().Equal(event.Captured, s.manager.HandleActivity(keyPress))

	s.Assert().Empty(s.transport.Calls(), "an active link MUST NOT be re-parameterized")
	s.Assert().Equal(uint64(2), s.manager.Stats().Events)
	s.Assert().Equal(connparams.ModeActive, s.manager.Mode())
}

func (s *ManagerTestSuite) TestWakeIsIdempotent() {
	// GOAL: Verify a burst of activity after idling issues exactly one set of wake updates
	//
	// TEST SCENARIO: Link idle → two consecutive events → A and B receive the active profile once each

	s.goIdle()
	s.transport.ResetCalls()

	s.manager.HandleActivity(keyPress)
	s.manager.HandleActivity(event.SensorEvent{Sensor: 0})

	s.Assert().Equal(connparams.ModeActive, s.manager.Mode(), "activity MUST wake the link")
	s.Assert().Equal([]string{"A", "B"}, s.callIDs(), "exactly one set of wake updates MUST be issued")
	for _, c := range s.transport.Calls() {
		s.Assert().Equal(connparams.Active, c.Params)
	}

	report, ok := s.lastReport()
	s.Require().True(ok)
	s.Assert().Equal(connparams.ModeActive, report.Mode)
}

func (s *ManagerTestSuite) TestDebounce() {
	// GOAL: Verify every activity event restarts the countdown from zero
	//
	// TEST SCENARIO: Event at t=0 → event at t=9.9s → no idle before t=19.9s → idle at t=19.9s

	s.manager.HandleActivity(keyPress)

	s.clock.Add(9900 * time.Millisecond)
	s.manager.HandleActivity(keyPress)

	s.clock.Add(9800 * time.Millisecond)
	s.Assert().Never(func() bool {
		return s.manager.Mode() == connparams.ModeIdle
	}, quiet, tick, "link MUST NOT go idle before 10s after the last event")
	s.Assert().Empty(s.transport.Calls())

	s.clock.Add(200 * time.Millisecond)
	s.Require().Eventually(func() bool {
		return s.manager.Mode() == connparams.ModeIdle
	}, waitFor, tick, "link MUST go idle 10s after the last event")
	s.Assert().Equal(uint64(0), s.manager.Stats().StaleExpiries)
}

func (s *ManagerTestSuite) TestWakePriority() {
	// GOAL: Verify activity wins over an expiry that fired in the same instant
	//
	// TEST SCENARIO: Expiry queued behind a busy worker → activity arrives → expiry runs → link stays active, no updates

	q := workqueue.New(nil, "wake-priority", 4, s.Logger)
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	q.Submit(func() {
		close(started)
		<-release
	})
	<-started

	s.startManager(activity.WithWorkQueue(q))

	s.clock.Add(10 * time.Second)
	s.Require().Eventually(func() bool { return q.Len() == 1 }, waitFor, tick, "expiry MUST be queued")

	s.manager.HandleActivity(keyPress)
	close(release)

	s.Require().Eventually(func() bool {
		return s.manager.Stats().StaleExpiries == 1
	}, waitFor, tick, "superseded expiry MUST be discarded")

	s.Assert().Equal(connparams.ModeActive, s.manager.Mode(), "end state MUST be active")
	s.Assert().Empty(s.transport.Calls(), "a discarded expiry MUST NOT push parameters")
}

func (s *ManagerTestSuite) TestActivityAfterExpiry() {
	// GOAL: Verify activity right after an idle transition wakes the link again
	//
	// TEST SCENARIO: Expiry completes → activity → active profile pushed → mode active → countdown restarted

	s.goIdle()
	s.manager.HandleActivity(keyPress)

	s.Assert().Equal(connparams.ModeActive, s.manager.Mode())
	s.Assert().Equal([]string{"A", "B", "A", "B"}, s.callIDs())

	s.goIdle()
	s.Assert().Equal(uint64(3), s.manager.Stats().Transitions)
}

func (s *ManagerTestSuite) TestRoleFiltering() {
	// GOAL: Verify peripheral-role connections are never updated in either mode
	//
	// TEST SCENARIO: Idle → wake → idle → C never appears in the request log

	s.goIdle()
	s.manager.HandleActivity(keyPress)
	s.goIdle()

	s.Assert().Empty(s.transport.CallsFor("C"), "peripheral connection MUST NOT receive update calls")
	s.Assert().Len(s.transport.Calls(), 6)
}

func (s *ManagerTestSuite) TestFaultIsolation() {
	// GOAL: Verify one failing connection neither aborts the transition nor corrupts the mode
	//
	// TEST SCENARIO: A rejects updates → timeout → B gets idle profile → mode idle → A retried on next wake

	s.Require().NoError(s.transport.FailAlways("A", sim.ErrRejected))

	s.goIdle()

	applied, ok := s.transport.Applied("B")
	s.Assert().True(ok, "B MUST be updated even though A failed")
	s.Assert().Equal(connparams.Idle, applied)
	_, ok = s.transport.Applied("A")
	s.Assert().False(ok, "A MUST NOT have applied parameters")

	report, ok := s.lastReport()
	s.Require().True(ok)
	s.Assert().Equal([]string{"B"}, report.Applied())
	s.Require().Len(report.Failed(), 1)

	failure := report.Failed()[0]
	s.Assert().ErrorIs(failure, sim.ErrRejected)
	var updateErr *link.ParameterUpdateFailedError
	s.Require().ErrorAs(failure, &updateErr, "failure MUST be a ParameterUpdateFailedError")
	s.Assert().Equal("A", updateErr.Conn.ID)
	s.Assert().Equal(connparams.Idle, updateErr.Params)

	stats := s.manager.Stats()
	s.Assert().Equal(uint64(2), stats.Updates)
	s.Assert().Equal(uint64(1), stats.Failures)

	// failures self-heal on the next cycle
	s.Require().NoError(s.transport.FailAlways("A", nil))
	s.manager.HandleActivity(keyPress)

	applied, ok = s.transport.Applied("A")
	s.Assert().True(ok, "A MUST be retried on the next transition")
	s.Assert().Equal(connparams.Active, applied)
}

func (s *ManagerTestSuite) TestClosedConnectionIsSkipped() {
	// GOAL: Verify a connection that disappears is simply skipped
	//
	// TEST SCENARIO: B removed → timeout → only A updated → link idle

	s.transport.Remove("B")
	s.manager.Forget("B")

	s.goIdle()

	s.Assert().Equal([]string{"A"}, s.callIDs())
}

func (s *ManagerTestSuite) TestSkipUnchanged() {
	// GOAL: Verify the skip-unchanged option avoids re-sending parameters a connection already holds
	//
	// TEST SCENARIO: A rejects idle → idle → wake → A skipped (still on active profile), B woken

	s.startManager(activity.WithSkipUnchanged(true))

	// A accepted the active profile at some earlier point
	s.manager.HandleActivity(keyPress)
	s.goIdle()
	s.manager.HandleActivity(keyPress)
	s.transport.ResetCalls()

	s.Require().NoError(s.transport.FailNext("A", sim.ErrRejected))
	s.goIdle()
	s.Assert().Equal([]string{"A", "B"}, s.callIDs())

	s.transport.ResetCalls()
	s.manager.HandleActivity(keyPress)

	s.Assert().Equal([]string{"B"}, s.callIDs(), "A still holds the active profile and MUST be skipped")
	report, ok := s.lastReport()
	s.Require().True(ok)
	s.Assert().Equal(1, report.Skipped)
}

func (s *ManagerTestSuite) TestSkipUnchangedDisabledByDefault() {
	// GOAL: Verify parameters are re-applied by default
	//
	// TEST SCENARIO: A rejects idle → idle → wake → both A and B receive the active profile

	s.manager.HandleActivity(keyPress)
	s.goIdle()
	s.manager.HandleActivity(keyPress)
	s.transport.ResetCalls()

	s.Require().NoError(s.transport.FailNext("A", sim.ErrRejected))
	s.goIdle()

	s.transport.ResetCalls()
	s.manager.HandleActivity(keyPress)

	s.Assert().Equal([]string{"A", "B"}, s.callIDs())
}

func (s *ManagerTestSuite) TestSubscribe() {
	// GOAL: Verify the manager captures key events, and sensor events only when sensors are configured
	//
	// TEST SCENARIO: Bus without sensors → sensor event bubbles; bus with sensors → captured

	bus := event.NewBus()
	s.manager.Subscribe(bus, false)

	s.Assert().Equal(event.Captured, bus.Raise(keyPress))
	s.Assert().Equal(event.Bubble, bus.Raise(event.SensorEvent{Sensor: 1}), "sensor events MUST NOT be consumed without sensors")

	withSensors := event.NewBus()
	s.manager.Subscribe(withSensors, true)
	s.Assert().Equal(event.Captured, withSensors.Raise(event.SensorEvent{Sensor: 1}))

	s.Assert().Equal(uint64(2), s.manager.Stats().Events)
}

func (s *ManagerTestSuite) TestSlowUpdateIsBounded() {
	// GOAL: Verify each update request is bounded by the update timeout
	//
	// TEST SCENARIO: A hangs → timeout → A fails with deadline exceeded → B still updated

	s.startManager(activity.WithUpdateTimeout(20 * time.Millisecond))
	s.Require().NoError(s.transport.SetDelay("A", time.Minute))

	s.goIdle()

	report, ok := s.lastReport()
	s.Require().True(ok)
	s.Assert().Equal([]string{"B"}, report.Applied())
	s.Require().Len(report.Failed(), 1)
}

func (s *ManagerTestSuite) TestClose() {
	// GOAL: Verify a closed manager ignores the timer and activity
	//
	// TEST SCENARIO: Close → time passes → no idle transition → activity still captured without effects

	s.manager.Close()
	s.clock.Add(time.Minute)

	s.Assert().Never(func() bool {
		return s.manager.Mode() == connparams.ModeIdle
	}, quiet, tick)
	s.Assert().Equal(event.Captured, s.manager.HandleActivity(keyPress))
	s.Assert().Empty(s.transport.Calls())

	// second Close MUST NOT block or panic
	s.manager.Close()
}
