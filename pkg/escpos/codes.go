package escpos

// QR and barcode directives are streams of GS ( k / GS k sub-commands.
// Devices parse them in order, so the sequence below is fixed:
// model, module size, error correction, store data, print.

const (
	qrFn = 0x31 // cn for QR Code

	qrModel2     = 0x32
	qrECLevelM   = 0x31
	qrStoreData  = 0x50
	qrPrintSym   = 0x51
	qrSelectMod  = 0x41
	qrSelectSize = 0x43
	qrSelectEC   = 0x45

	barcodeCode128  = 73
	barcodeHRIBelow = 2
	barcodeModule   = 2
)

// PrintQRCode prints data as a QR code with module size 1..16.
// Empty data appends nothing.
func (b *Builder) PrintQRCode(data string, size int) *Builder {
	if data == "" {
		return b
	}

	payload := []byte(data)
	if len(payload) > maxQRData {
		payload = payload[:maxQRData]
	}

	module := byte(clamp(size, minQRSize, maxQRSize))

	b.raw(gs, '(', 'k', 4, 0, qrFn, qrSelectMod, qrModel2, 0)
	b.raw(gs, '(', 'k', 3, 0, qrFn, qrSelectSize, module)
	b.raw(gs, '(', 'k', 3, 0, qrFn, qrSelectEC, qrECLevelM)

	storeLen := len(payload) + 3
	b.raw(gs, '(', 'k', byte(storeLen&0xFF), byte(storeLen>>8), qrFn, qrStoreData, '0')
	b.raw(payload...)

	return b.raw(gs, '(', 'k', 3, 0, qrFn, qrPrintSym, '0')
}

// PrintBarcode prints data as CODE128 with the given height in dots
// (1..255) and human-readable text below. Characters outside printable
// ASCII are dropped; empty data appends nothing.
func (b *Builder) PrintBarcode(data string, height int) *Builder {
	payload := make([]byte, 0, len(data))

	for i := 0; i < len(data) && len(payload) < maxBarcodeData; i++ {
		if c := data[i]; c >= 0x20 && c <= 0x7E {
			payload = append(payload, c)
		}
	}

	if len(payload) == 0 {
		return b
	}

	b.raw(gs, 'h', byte(clamp(height, 1, maxByteArg)))
	b.raw(gs, 'w', barcodeModule)
	b.raw(gs, 'H', barcodeHRIBelow)
	b.raw(gs, 'k', barcodeCode128, byte(len(payload)+2), '{', 'B')

	return b.raw(payload...)
}
