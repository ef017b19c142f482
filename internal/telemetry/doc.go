// Package telemetry publishes localization output over MQTT so other
// vehicle systems can consume pose updates without linking against the
// matcher. Publishing is fire-and-forget; a broker outage never stalls
// the scan path.
package telemetry
