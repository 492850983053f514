// Package selector преобразует частично заполненный запрос на поиск
// астрономического объекта (идентификатор, координаты, радиус) в описание
// ровно одного исходящего запроса к сервису каталога алертов.
//
// Пакет не выполняет сетевых операций и не возвращает ошибок: любой набор
// параметров, даже неполный или противоречивый, превращается в синтаксически
// корректный запрос.
package selector

import (
	"net/url"
	"strings"
)

const (
	// AlertsPath — путь эндпоинта алертов.
	AlertsPath = "/api/alerts"
	// RadiusUnits — единицы радиуса, всегда угловые секунды.
	RadiusUnits = "arcsec"

	KeyObjectID    = "objectId"
	KeyRA          = "ra"
	KeyDec         = "dec"
	KeyRadius      = "radius"
	KeyRadiusUnits = "radius_units"
)

// Params — четыре необязательных поля запроса. Пустая строка означает
// отсутствие значения; числовой разбор и проверка диапазонов не выполняются.
type Params struct {
	ObjectID string
	RA       string
	Dec      string
	Radius   string
}

// Branch указывает ветку политики выбора, породившую запрос.
type Branch int

const (
	// BranchFallback — запрос по идентификатору, возможно пустому.
	BranchFallback Branch = iota
	// BranchCombined — идентификатор вместе с конусом поиска.
	BranchCombined
	// BranchObject — только идентификатор.
	BranchObject
	// BranchCone — только конус поиска.
	BranchCone
)

func (b Branch) String() string {
	switch b {
	case BranchCombined:
		return "combined"
	case BranchObject:
		return "object"
	case BranchCone:
		return "cone"
	default:
		return "fallback"
	}
}

// Param — одна пара ключ/значение строки запроса.
type Param struct {
	Key   string
	Value string
}

// Request описывает один исходящий запрос: путь и упорядоченный набор
// параметров. Значение не изменяется после создания.
type Request struct {
	Branch Branch
	Path   string
	Params []Param
	// Generation назначается диспетчером при отправке; ноль означает,
	// что запрос еще не был отправлен.
	Generation uint64
}

// Select выбирает комбинацию параметров в строгом порядке приоритета,
// срабатывает первое совпадение.
func Select(p Params) Request {
	hasID := len(p.ObjectID) > 0
	hasCone := len(p.RA) > 0 && len(p.Dec) > 0 && len(p.Radius) > 0

	switch {
	case hasID && hasCone:
		return newRequest(BranchCombined,
			Param{KeyObjectID, p.ObjectID},
			Param{KeyRA, p.RA},
			Param{KeyDec, p.Dec},
			Param{KeyRadius, p.Radius},
			Param{KeyRadiusUnits, RadiusUnits},
		)
	case hasID:
		return newRequest(BranchObject, Param{KeyObjectID, p.ObjectID})
	case hasCone:
		return newRequest(BranchCone,
			Param{KeyRA, p.RA},
			Param{KeyDec, p.Dec},
			Param{KeyRadius, p.Radius},
			Param{KeyRadiusUnits, RadiusUnits},
		)
	default:
		// Неполный набор координат сюда же: запрос по пустому идентификатору
		// вместо локальной ошибки.
		return newRequest(BranchFallback, Param{KeyObjectID, p.ObjectID})
	}
}

func newRequest(branch Branch, params ...Param) Request {
	return Request{
		Branch: branch,
		Path:   AlertsPath,
		Params: params,
	}
}

// WithGeneration возвращает копию запроса с указанным поколением.
func (r Request) WithGeneration(gen uint64) Request {
	r.Params = append([]Param(nil), r.Params...)
	r.Generation = gen
	return r
}

// Get возвращает значение параметра и признак его наличия.
func (r Request) Get(key string) (string, bool) {
	for _, p := range r.Params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// String возвращает путь со строкой запроса без экранирования значений,
// например "/api/alerts?ra=10.5&dec=+41.2&radius=5&radius_units=arcsec".
func (r Request) String() string {
	var b strings.Builder
	b.WriteString(r.Path)
	for i, p := range r.Params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	return b.String()
}

// Query возвращает параметры в виде url.Values.
func (r Request) Query() url.Values {
	v := make(url.Values, len(r.Params))
	for _, p := range r.Params {
		v.Add(p.Key, p.Value)
	}
	return v
}

// Encode возвращает экранированную строку запроса в порядке параметров ветки.
// В отличие от url.Values.Encode ключи не сортируются.
func (r Request) Encode() string {
	var b strings.Builder
	for i, p := range r.Params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}

// URL строит абсолютный адрес запроса относительно base.
// Путь base сохраняется как префикс.
func (r Request) URL(base *url.URL) *url.URL {
	u := *base
	u.Path = strings.TrimSuffix(base.Path, "/") + r.Path
	u.RawPath = ""
	u.RawQuery = r.Encode()
	u.Fragment = ""
	return &u
}
