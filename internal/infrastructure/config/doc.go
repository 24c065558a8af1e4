// Package config provides configuration loading for FleetCore.
//
// Configuration is loaded from a YAML file with environment variable
// overrides. Defaults are applied first, then file values, then
// environment variables, so a minimal config file is enough to get a
// working deployment.
//
// Environment variables use the FLEETCORE_ prefix:
//
//	FLEETCORE_DATABASE_PATH    overrides database.path
//	FLEETCORE_MQTT_HOST        overrides mqtt.broker.host
//	FLEETCORE_MQTT_USERNAME    overrides mqtt.auth.username
//	FLEETCORE_MQTT_PASSWORD    overrides mqtt.auth.password
//	FLEETCORE_INFLUXDB_TOKEN   overrides influxdb.token
//
// Secrets (broker credentials, telemetry tokens) should come from the
// environment rather than the config file in production deployments.
package config
