// Package nats relays camlog session events to a NATS broker and accepts
// remote restart requests.
//
// # Subjects
//
//	camlog.cameras.{index}.state            # worker transitions
//	camlog.cameras.{index}.startup_failed   # camera skipped at session start
//	camlog.sessions.started                 # session started
//	camlog.sessions.stopped                 # session stopped, with message counts
//	camlog.control.restart                  # request/reply restart
//
// Payloads are the JSON encodings of the matching events package types.
// Frames and log lines are not relayed. An embedded Server can stand in
// for a broker on single-host setups.
//
// Watch a recorder with the nats CLI:
//
//	nats sub "camlog.>"
//
// Restart its session:
//
//	nats req camlog.control.restart '{"action":"restart","reason":"manual"}'
package nats
