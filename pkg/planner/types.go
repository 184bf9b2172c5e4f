package planner

// Direction says which side of a Unit is local.
type Direction int

const (
	// Upload moves local sources to a remote destination.
	Upload Direction = iota
	// Download moves remote sources to a local destination.
	Download
	// Local copies between two local locations.
	Local
)

func (d Direction) String() string {
	switch d {
	case Upload:
		return "upload"
	case Download:
		return "download"
	case Local:
		return "local"
	default:
		return "unknown"
	}
}

// SourceRemote reports whether sources live on the remote host.
func (d Direction) SourceRemote() bool { return d == Download }

// DestRemote reports whether destinations live on the remote host.
func (d Direction) DestRemote() bool { return d == Upload }

// Unit is one source to destination pair. Source and Dest belong to
// different address spaces unless the direction is Local.
type Unit struct {
	Source string
	Dest   string
	// IsDir marks a directory with no transferred files beneath it. Only
	// the directory itself is created on the destination side.
	IsDir bool
}

// Plan is everything one upload, download or copy will do.
type Plan struct {
	Units []Unit
	// Directories are the distinct parents of every file Unit's Dest. They
	// are created before any Unit runs.
	Directories []string
}

// Files returns the units that carry file content.
func (p Plan) Files() []Unit {
	var files []Unit
	for _, u := range p.Units {
		if !u.IsDir {
			files = append(files, u)
		}
	}
	return files
}
