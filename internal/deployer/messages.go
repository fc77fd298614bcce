package deployer

// Topic is the queue every deployer instance consumes.
const Topic = "deployer"

// Method names served on Topic.
const (
	MethodDeploy          = "deploy"
	MethodScale           = "scale"
	MethodDestroyAssembly = "destroy_assembly"
	MethodDestroyApp      = "destroy_app"
)

// DeployRequest asks for an assembly's image to be brought up.
type DeployRequest struct {
	AssemblyID string `cbor:"assembly_id"`
	ImageID    string `cbor:"image_id"`
	ImageRef   string `cbor:"image_ref"`
	Ports      []int  `cbor:"ports,omitempty"`
	RunCmd     string `cbor:"run_cmd,omitempty"`
}

// ScaleRequest changes the number of running instances of an assembly.
type ScaleRequest struct {
	AssemblyID string `cbor:"assembly_id"`
	Count      int    `cbor:"count"`
}

// DestroyAssemblyRequest tears down one assembly.
type DestroyAssemblyRequest struct {
	AssemblyID string `cbor:"assembly_id"`
}

// DestroyAppRequest tears down every assembly of a plan.
type DestroyAppRequest struct {
	PlanID string `cbor:"plan_id"`
}
