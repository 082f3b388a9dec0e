package dwsim

// Map routes register accesses to the block whose window contains the
// address. Accesses outside every window read as zero and drop writes.
type Map struct {
	blocks []*Block
}

func NewMap(blocks ...*Block) *Map {
	return &Map{blocks: blocks}
}

// Add places b on the map.
func (m *Map) Add(b *Block) { m.blocks = append(m.blocks, b) }

// Block returns the block mapped at base.
func (m *Map) Block(base uintptr) (*Block, bool) {
	for _, b := range m.blocks {
		if b.base == base {
			return b, true
		}
	}
	return nil, false
}

func (m *Map) find(addr uintptr) *Block {
	for _, b := range m.blocks {
		if b.Contains(addr) {
			return b
		}
	}
	return nil
}

func (m *Map) Read32(addr uintptr) uint32 {
	if b := m.find(addr); b != nil {
		return b.Read32(addr)
	}
	return 0
}

func (m *Map) Write32(addr uintptr, v uint32) {
	if b := m.find(addr); b != nil {
		b.Write32(addr, v)
	}
}

// Close stops every block on the map.
func (m *Map) Close() {
	for _, b := range m.blocks {
		b.Close()
	}
}
