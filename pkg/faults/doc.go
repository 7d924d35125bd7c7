/*
Package faults classifies runtime errors and front-ends the error pipeline.

Every fault raised by a sync operation flows through Handler.Handle, which
classifies it (category, severity, retryability), logs it at a level matching
its severity, optionally alerts a webhook, records it in a bounded history,
and routes it to the retry scheduler. Classification rules are ordered;
connection faults are checked first because they are the dominant failure mode
in steady state.
*/
package faults
