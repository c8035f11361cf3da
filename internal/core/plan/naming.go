package plan

import "fmt"

// =============================================================================
// Resource Naming
// =============================================================================

// NetworkName generates the network name for a stack.
// Pattern: stackup_{stackID}_{networkName}
func NetworkName(stackID, networkName string) string {
	return fmt.Sprintf("stackup_%s_%s", stackID, networkName)
}

// VolumeName generates the volume name for a named volume in a stack.
// Pattern: stackup_{stackID}_{volumeName}
func VolumeName(stackID, volumeName string) string {
	return fmt.Sprintf("stackup_%s_%s", stackID, volumeName)
}

// ContainerName generates the container name for a service in a stack.
// Pattern: stackup_{stackID}_{serviceName}
func ContainerName(stackID, serviceName string) string {
	return fmt.Sprintf("stackup_%s_%s", stackID, serviceName)
}

// ImageTag generates the tag for an image built from a service's build
// context. Pattern: stackup/{stackName}_{serviceName}:latest
func ImageTag(stackName, serviceName string) string {
	return fmt.Sprintf("stackup/%s_%s:latest", stackName, serviceName)
}
