package conductor

// Topic is the queue every conductor instance consumes.
const Topic = "conductor"

// Method names served on Topic.
const (
	MethodBuildJobUpdate    = "build_job_update"
	MethodUpdateAssembly    = "update_assembly"
	MethodUpdateImage       = "update_image"
	MethodRegisterComponent = "register_component"
	MethodDeleteAssembly    = "delete_assembly"
)

// BuildJobUpdate reports the outcome of a build for image BuildID.
type BuildJobUpdate struct {
	BuildID         string `cbor:"build_id"`
	Status          string `cbor:"status"`
	Reason          string `cbor:"reason,omitempty"`
	CreatedImageID  string `cbor:"created_image_id,omitempty"`
	DockerImageName string `cbor:"docker_image_name,omitempty"`
	ExternalRef     string `cbor:"external_ref,omitempty"`
	AssemblyID      string `cbor:"assembly_id,omitempty"`
	Seq             uint64 `cbor:"seq"`
}

// AssemblyUpdate changes an assembly's status and optional application URI.
type AssemblyUpdate struct {
	AssemblyID     string `cbor:"assembly_id"`
	Status         string `cbor:"status"`
	ApplicationURI string `cbor:"application_uri,omitempty"`
	Seq            uint64 `cbor:"seq"`
}

// ImageUpdate changes an image's status and references.
type ImageUpdate struct {
	ImageID         string `cbor:"image_id"`
	Status          string `cbor:"status"`
	ExternalRef     string `cbor:"external_ref,omitempty"`
	DockerImageName string `cbor:"docker_image_name,omitempty"`
	Seq             uint64 `cbor:"seq"`
}

// ComponentRegistration attaches an external resource to an assembly.
type ComponentRegistration struct {
	AssemblyID    string `cbor:"assembly_id"`
	Description   string `cbor:"description"`
	Name          string `cbor:"name,omitempty"`
	ResourceURI   string `cbor:"resource_uri,omitempty"`
	ComponentType string `cbor:"component_type,omitempty"`
}

// AssemblyDeletion removes an assembly whose infrastructure is gone.
type AssemblyDeletion struct {
	AssemblyID string `cbor:"assembly_id"`
}

// Ack is returned to callers that use Call instead of Cast.
type Ack struct {
	Applied bool `cbor:"applied"`
}
