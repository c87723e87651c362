package services

// Stock es una línea de stock por artículo y depósito.
type Stock struct {
	CodeArticle string  `json:"codeArticle"`
	Libelle     string  `json:"libelle"`
	Depot       string  `json:"depot,omitempty"`
	Quantite    float64 `json:"quantite"`
	Unite       string  `json:"unite,omitempty"`
}

func (s Stock) validate() error {
	if s.CodeArticle == "" {
		return missing("codeArticle")
	}
	return nil
}

// Facture es una factura emitida.
type Facture struct {
	Numero     string  `json:"numero"`
	CodeClient string  `json:"codeClient,omitempty"`
	NomClient  string  `json:"nomClient,omitempty"`
	Date       string  `json:"date"`
	MontantHT  float64 `json:"montantHT"`
	MontantTTC float64 `json:"montantTTC"`
	Statut     string  `json:"statut,omitempty"`
}

func (f Facture) validate() error {
	if f.Numero == "" {
		return missing("numero")
	}
	if f.Date == "" {
		return missing("date")
	}
	return nil
}

// Operation es una operación comercial (promoción, campaña).
type Operation struct {
	ID        int    `json:"idOperation"`
	Code      string `json:"code,omitempty"`
	Libelle   string `json:"libelle"`
	DateDebut string `json:"dateDebut,omitempty"`
	DateFin   string `json:"dateFin,omitempty"`
	Etat      string `json:"etat,omitempty"`
}

func (o Operation) validate() error {
	if o.ID <= 0 {
		return missing("idOperation")
	}
	return nil
}

// EtatOperation es un estado posible de una operación (dato de referencia).
type EtatOperation struct {
	Code    string `json:"code"`
	Libelle string `json:"libelle"`
}

func (e EtatOperation) validate() error {
	if e.Code == "" {
		return missing("code")
	}
	return nil
}

// Droit es un permiso del usuario en una división.
type Droit struct {
	Code    string `json:"code"`
	Libelle string `json:"libelle,omitempty"`
}

func (d Droit) validate() error {
	if d.Code == "" {
		return missing("code")
	}
	return nil
}

// Division es una división accesible por el usuario.
type Division struct {
	ID  int    `json:"idDivision"`
	Nom string `json:"nom"`
}

func (d Division) validate() error {
	if d.ID <= 0 {
		return missing("idDivision")
	}
	return nil
}
