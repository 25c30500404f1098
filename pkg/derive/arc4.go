package derive

// Cipher is the jsbn Arcfour state. Each byte it emits advances it, so two
// keys drawn from one cipher always differ in position.
type Cipher struct {
	S    [256]byte
	I, J uint8
}

// NewCipher runs the ARC4 key schedule over the whole pool.
func NewCipher(key *Pool) Cipher {
	var c Cipher
	for i := range c.S {
		c.S[i] = byte(i)
	}

	var j uint8
	for i := 0; i < 256; i++ {
		j += c.S[i] + key[i%len(key)]
		c.S[i], c.S[j] = c.S[j], c.S[i]
	}

	return c
}

// Byte returns the next keystream byte.
func (c *Cipher) Byte() byte {
	c.I++
	c.J += c.S[c.I]
	c.S[c.I], c.S[c.J] = c.S[c.J], c.S[c.I]
	return c.S[c.S[c.I]+c.S[c.J]]
}

// Read fills b with keystream.
func (c *Cipher) Read(b []byte) {
	for i := range b {
		b[i] = c.Byte()
	}
}
