package engine

// exitState implements spec.md §4.8's three-phase at-exit drain,
// g_exit_procedure. Each row of the spec's table is one transition,
// effected by the named thread (goroutine, here).
type exitState int32

const (
	exitRunning          exitState = iota // RUNNING
	exitHooked                            // EXIT_HOOKED: Stop() called
	exitTransmitterBegin                  // TRANSMITTER_BEGIN
	exitTransmitterDone                   // TRANSMITTER_DONE
	exitMonitorBegin                      // MONITOR_BEGIN
	exitMonitorDone                       // MONITOR_DONE
)
