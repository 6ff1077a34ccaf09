package experiment

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// MigrationFunc migrates a definition from an older schema version
type MigrationFunc func(*Definition) error

// migrations maps source version to migration functions. Empty until a
// breaking schema change ships.
var migrations = map[string]MigrationFunc{}

// Migrate upgrades a definition to the current schema version
func Migrate(def *Definition) error {
	if def == nil {
		return fmt.Errorf("definition cannot be nil")
	}
	if def.SchemaVersion == SchemaVersion {
		return nil
	}

	current, err := parseVersion(def.SchemaVersion)
	if err != nil {
		return err
	}
	target, err := parseVersion(SchemaVersion)
	if err != nil {
		return fmt.Errorf("invalid target schema version: %s", SchemaVersion)
	}

	if current.GreaterThan(target) {
		return fmt.Errorf("definition schema version %s is newer than supported version %s",
			def.SchemaVersion, SchemaVersion)
	}
	if current.Major() != target.Major() {
		return fmt.Errorf("no migration path from version %s to %s", def.SchemaVersion, SchemaVersion)
	}

	for version, migrate := range migrations {
		migrationVersion, err := semver.NewVersion(version)
		if err != nil {
			continue
		}
		if current.LessThan(migrationVersion) {
			if err := migrate(def); err != nil {
				return fmt.Errorf("migration from %s failed: %w", version, err)
			}
		}
	}

	def.SchemaVersion = SchemaVersion
	return nil
}

// parseVersion handles both "1.0" and "1.0.0" style version strings
func parseVersion(v string) (*semver.Version, error) {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		parsed, err = semver.NewVersion(v + ".0")
		if err != nil {
			return nil, fmt.Errorf("invalid schema version: %s", v)
		}
	}
	return parsed, nil
}
