// Package codegen генерирует реферальные коды.
package codegen

import "crypto/rand"

const (
	// Prefix задаёт постоянный префикс всех кодов.
	Prefix = "SVH-"
	// Alphabet содержит допустимые символы случайной части кода.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// Length задаёт длину случайной части кода.
	Length = 6
)

// Байты не меньше limit отбрасываются, иначе первые символы алфавита выпадали бы чаще.
const limit = 256 - 256%len(Alphabet)

// pick переводит случайный байт в символ алфавита. false означает, что байт надо отбросить.
func pick(b byte) (byte, bool) {
	if int(b) >= limit {
		return 0, false
	}
	return Alphabet[int(b)%len(Alphabet)], true
}

// Generate возвращает новый код вида SVH-AB12CD.
// Уникальность не гарантируется: коллизии разрешает вызывающая сторона.
func Generate() string {
	buf := make([]byte, 0, len(Prefix)+Length)
	buf = append(buf, Prefix...)

	random := make([]byte, 2*Length)
	for len(buf) < cap(buf) {
		// crypto/rand.Read не возвращает ошибок начиная с Go 1.24.
		_, _ = rand.Read(random)
		for _, b := range random {
			if len(buf) == cap(buf) {
				break
			}
			if ch, ok := pick(b); ok {
				buf = append(buf, ch)
			}
		}
	}

	return string(buf)
}
