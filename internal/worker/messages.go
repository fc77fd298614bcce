package worker

// Topic is the queue every worker instance consumes.
const Topic = "worker"

// Method names served on Topic.
const (
	MethodBuild    = "build"
	MethodUnitTest = "unittest"
	MethodEcho     = "echo"
)

// BuildRequest describes one artifact build for an assembly. BuildID is the
// id of the image record the build fills in.
type BuildRequest struct {
	BuildID        string `cbor:"build_id"`
	AssemblyID     string `cbor:"assembly_id"`
	Name           string `cbor:"name"`
	SourceURI      string `cbor:"source_uri"`
	Revision       string `cbor:"revision,omitempty"`
	SourceFormat   string `cbor:"source_format,omitempty"`
	ImageFormat    string `cbor:"image_format,omitempty"`
	BaseImageID    string `cbor:"base_image_id,omitempty"`
	TestCmd        string `cbor:"test_cmd,omitempty"`
	RunCmd         string `cbor:"run_cmd,omitempty"`
	Ports          []int  `cbor:"ports,omitempty"`
	CredentialsRef string `cbor:"credentials_ref,omitempty"`
}

// EchoRequest is answered verbatim.
type EchoRequest struct {
	Message string `cbor:"message"`
}

// EchoReply carries the echoed message.
type EchoReply struct {
	Message string `cbor:"message"`
}
