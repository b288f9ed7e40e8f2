package deployment

import (
	"fmt"
	"regexp"
	"strings"
)

// =============================================================================
// Resource Naming Functions
// =============================================================================

// projectInvalidChars matches characters not allowed in a project name.
var projectInvalidChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// ProjectName normalizes a project name: lowercase, runs of characters
// outside [a-z0-9_-] removed, and leading separators trimmed so that names
// derived from it are valid engine resource names.
//
// Example:
//
//	ProjectName("My App.v2") // returns "myappv2"
func ProjectName(name string) string {
	name = projectInvalidChars.ReplaceAllString(strings.ToLower(name), "")
	return strings.TrimLeft(name, "_-")
}

// NetworkName generates an engine network name for a project network.
// Pattern: {project}_{network}
//
// Example:
//
//	NetworkName("shop", "default") // returns "shop_default"
func NetworkName(project, network string) string {
	return fmt.Sprintf("%s_%s", project, network)
}

// VolumeName generates an engine volume name for a project volume.
// Pattern: {project}_{volume}
//
// Example:
//
//	VolumeName("shop", "pgdata") // returns "shop_pgdata"
func VolumeName(project, volume string) string {
	return fmt.Sprintf("%s_%s", project, volume)
}

// ContainerName generates a container name for a service in a project.
// Pattern: {project}_{service}
//
// Example:
//
//	ContainerName("shop", "web") // returns "shop_web"
func ContainerName(project, service string) string {
	return fmt.Sprintf("%s_%s", project, service)
}

// ImageName generates the tag for an image built for a service that does not
// name its own image.
// Pattern: {project}_{service}:latest
//
// Example:
//
//	ImageName("shop", "API") // returns "shop_api:latest"
func ImageName(project, service string) string {
	return fmt.Sprintf("%s_%s:latest", project, strings.ToLower(service))
}
