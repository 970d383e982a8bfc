package buildinfo

import "fmt"

// Set with -ldflags "-X evfleet/internal/buildinfo.Version=..."
var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

func Info() map[string]string {
    return map[string]string{
        "version": Version,
        "commit":  Commit,
        "builtAt": BuiltAt,
    }
}

// String is the one-line form printed by `evrp -version`.
func String() string {
    s := "evfleet " + Version
    if Commit != "" {
        s += fmt.Sprintf(" (%s)", Commit)
    }
    if BuiltAt != "" {
        s += " built " + BuiltAt
    }
    return s
}
