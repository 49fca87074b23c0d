// Package influxdb streams telegram history into InfluxDB v2.
//
// Recording is optional and strictly best-effort: points batch in the
// non-blocking write API and a slow or unavailable server never stalls
// the address bus. The sqlite address table remains the authoritative
// store of last values; InfluxDB only serves charts and history.
package influxdb
