// Package logging sets up structured slog logging for CASearch. Logs are
// JSON lines written to a size-rotated file under ~/.casearch/logs/, and
// mirrored to stderr when --debug is set. The viewer reads them back for
// `casearch logs`.
package logging
