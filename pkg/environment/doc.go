// Package environment names the deployment environment (development, staging,
// production) and carries it through request contexts and log records.
package environment
