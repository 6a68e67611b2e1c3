// Package logging sets up slog for the whole process with a level per
// module.
//
// Call Initialize once, then ask for loggers by module name:
//
//	logging.Initialize(logging.Config{
//		Level:   "info",
//		Format:  "text",
//		Modules: map[string]string{"coordinator": "debug"},
//	})
//	logger := logging.GetLogger("coordinator")
//
// A module without an entry in Modules, or with a level name ParseLevel
// does not know, uses Level. Loggers hold a slog.LevelVar per module, so
// SetLevels takes effect on loggers that were handed out earlier, including
// those obtained before Initialize.
//
// Records go to the systemd journal when journald is reachable and to
// stdout (text or JSON) when stdout is open; both when both are. Journal
// entries are tagged SYSLOG_IDENTIFIER=theia, carry every attribute as an
// upper-case field and include CODE_FILE, CODE_LINE and CODE_FUNC:
//
//	journalctl -t theia MODULE=viewer -p warning
//
// Every record is also kept in a ring buffer (GetBuffer) and passed to the
// callback set with SetLogCallback. Buffered entries carry a sequence
// number, one higher than the previous entry, so a reader that replays the
// buffer and then follows the callback can drop what it has already seen.
//
// In the config file, levels live in the [logging] table:
//
//	[logging]
//	level = "info"
//	format = "json"
//	camera = "debug"
//
//	[logging.modules]
//	viewer = "warn"
package logging
