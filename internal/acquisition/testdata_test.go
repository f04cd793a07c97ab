package acquisition

const facturaDTE = `<?xml version="1.0" encoding="UTF-8"?>
<DTE version="1.0" xmlns="http://www.sii.cl/SiiDte">
  <Documento ID="F4512T33">
    <Encabezado>
      <IdDoc>
        <TipoDTE>33</TipoDTE>
        <Folio>4512</Folio>
        <FchEmis>2024-03-15</FchEmis>
      </IdDoc>
      <Emisor>
        <RUTEmisor>76333222-5</RUTEmisor>
        <RznSoc>Comercial Los Andes SpA</RznSoc>
        <GiroEmis>Venta al por mayor de alimentos</GiroEmis>
      </Emisor>
      <Receptor>
        <RUTRecep>77123456-9</RUTRecep>
        <RznSocRecep>Distribuidora Sur Ltda</RznSocRecep>
      </Receptor>
      <Totales>
        <MntNeto>100000</MntNeto>
        <TasaIVA>19</TasaIVA>
        <IVA>19000</IVA>
        <MntTotal>119000</MntTotal>
      </Totales>
    </Encabezado>
    <Detalle>
      <NroLinDet>1</NroLinDet>
      <NmbItem>Harina 25kg</NmbItem>
      <MontoItem>100000</MontoItem>
    </Detalle>
  </Documento>
</DTE>`

const facturaDTEText = `RAZON SOCIAL: Comercial Los Andes SpA
GIRO: Venta al por mayor de alimentos
R.U.T.: 76333222-5
FACTURA ELECTRONICA
FOLIO N° 4512
FECHA EMISION: 15/03/2024
SEÑOR(ES): Distribuidora Sur Ltda
R.U.T.: 77123456-9
MONTO NETO $ 100.000
IVA 19% $ 19.000
TOTAL $ 119.000`

// Latin-1 encoded envelope with a credit note; \xe9 is "é".
const notaCreditoEnvio = "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n" +
	"<EnvioDTE xmlns=\"http://www.sii.cl/SiiDte\" version=\"1.0\"><SetDTE ID=\"SetDoc\">" +
	"<Caratula><RutEmisor>96790240-3</RutEmisor></Caratula>" +
	"<DTE version=\"1.0\"><Documento ID=\"NC1201\"><Encabezado>" +
	"<IdDoc><TipoDTE>61</TipoDTE><Folio>1201</Folio><FchEmis>2024-01-02</FchEmis></IdDoc>" +
	"<Emisor><RUTEmisor>96790240-3</RUTEmisor><RznSoc>Servicios Educacionales Alfa Limitada</RznSoc></Emisor>" +
	"<Receptor><RUTRecep>8765432-K</RUTRecep><RznSocRecep>Juan P\xe9rez</RznSocRecep></Receptor>" +
	"<Totales><MntNeto>42017</MntNeto><TasaIVA>19.00</TasaIVA><IVA>7983</IVA><MntTotal>50000</MntTotal></Totales>" +
	"</Encabezado></Documento></DTE></SetDTE></EnvioDTE>"

// Exempt invoice saved without the XML prolog.
const exentaDTE = `<DTE version="1.0"><Documento ID="E1520"><Encabezado>
<IdDoc><TipoDTE>34</TipoDTE><Folio>1520</Folio><FchEmis>2024-01-05</FchEmis></IdDoc>
<Emisor><RUTEmisor>96790240-3</RUTEmisor><RznSocEmisor>Servicios Educacionales Alfa Limitada</RznSocEmisor></Emisor>
<Totales><MntExe>450000</MntExe><IVA>0</IVA><MntTotal>450000</MntTotal></Totales>
</Encabezado></Documento></DTE>`
