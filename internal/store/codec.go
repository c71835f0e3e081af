package store

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/mod/semver"

	"sysmet/internal/collector"
)

// document - то, что лежит на диске: одно самоописывающее CBOR-значение
type document struct {
	Version   string               `cbor:"version"`
	Snapshots []collector.Snapshot `cbor:"snapshots"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Time:    cbor.TimeRFC3339Nano,
		TimeTag: cbor.EncTagRequired,
		Sort:    cbor.SortCanonical,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("store: cbor encode options: %v", err))
	}

	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 27,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("store: cbor decode options: %v", err))
	}
}

// marshalDocument кодирует документ целиком в память
var marshalDocument = func(doc *document) ([]byte, error) {
	return encMode.Marshal(doc)
}

// encode сначала кодирует документ полностью и только потом пишет в w,
// поэтому ошибка кодирования не трогает файл
func encode(w io.Writer, doc *document) error {
	data, err := marshalDocument(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	_, err = w.Write(data)
	return err
}

// decode требует ровно одно CBOR-значение: байты после документа - повреждение файла
func decode(r io.Reader) (*document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var doc document
	if err := decMode.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeserialization, err)
	}
	return &doc, nil
}

// compareVersions сравнивает две semver-строки без префикса "v"
func compareVersions(a, b string) (int, error) {
	va, vb := "v"+a, "v"+b
	if !semver.IsValid(va) {
		return 0, fmt.Errorf("%w: %q", ErrVersionParse, a)
	}
	if !semver.IsValid(vb) {
		return 0, fmt.Errorf("%w: %q", ErrVersionParse, b)
	}
	return semver.Compare(va, vb), nil
}

// ReconcileVersion применяет политику версий к загруженной базе.
//
// Если версия в файле новее текущей, база принимается, а ее версия
// переписывается на текущую (downgraded = true). Файл на диске при этом не
// меняется, пока вызывающий не сохранит базу. Это единственный случай, когда
// расхождение не считается ошибкой: вызывающий только логирует предупреждение.
func ReconcileVersion(loaded Store, current string) (reconciled Store, downgraded bool, err error) {
	cmp, err := compareVersions(loaded.Version, current)
	if err != nil {
		return loaded, false, err
	}
	if cmp > 0 {
		loaded.Version = current
		return loaded, true, nil
	}
	return loaded, false, nil
}
