package packet

// Client opcodes.
const (
	C_OPCODE_SUBSCRIBE byte = 1 // [D map]
	C_OPCODE_ACK       byte = 2 // [DU tick]
	C_OPCODE_RESYNC    byte = 3
)

// Server opcodes.
const (
	S_OPCODE_HELLO        byte = 100 // [DU tick][H chunk size]
	S_OPCODE_GRID_DELTA   byte = 101 // see EncodeGridDelta
	S_OPCODE_GRID_PLACE   byte = 102 // [D grid][D map][F x][F y][F rotation][F tile size]
	S_OPCODE_GRID_REMOVED byte = 103 // [D grid]
)
